package gstreamer

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		debug string
		want  ErrorCategory
	}{
		{"pulse device missing", "Could not open audio device for recording.", "pulsesrc.c(1042): Connection refused", ErrCategoryDevice},
		{"negotiation failure", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryCodec},
		{"missing encoder", "Your GStreamer installation is missing a plug-in.", "missing plugin: opusenc", ErrCategoryCodec},
		{"udp send", "Error sending UDP packets", "gstmultiudpsink.c(722): Network is unreachable", ErrCategoryNetwork},
		{"host resolution", "Could not resolve host name", "", ErrCategoryNetwork},
		{"disk full", "Error while writing to download file.", "No space left on device", ErrCategoryResource},
		{"segment permission", "Could not open file \"/rec/rec_0.ogg\" for writing.", "Permission denied", ErrCategoryResource},
		{"unknown", "Something odd happened", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.msg, tt.debug); got != tt.want {
				t.Errorf("classify(%q, %q) = %s, want %s", tt.msg, tt.debug, got, tt.want)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := ClassifyError(nil); got != ErrCategoryUnknown {
		t.Errorf("ClassifyError(nil) = %s, want unknown", got)
	}
}
