package gstreamer

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates capture device failures (missing, busy, permissions)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryNetwork indicates transport failures (socket, host resolution)
	ErrCategoryNetwork
	// ErrCategoryCodec indicates encoder or negotiation failures
	ErrCategoryCodec
	// ErrCategoryResource indicates file or disk failures (segment writer)
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	deviceKeywords = []string{
		"audio device",
		"capture device",
		"pulse",
		"alsa",
		"audio source",
		"could not open audio",
		"no such device",
		"busy",
	}
	codecKeywords = []string{
		"codec",
		"encode",
		"decode",
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"format",
		"missing plugin",
		"opus",
		"vorbis",
	}
	networkKeywords = []string{
		"udp",
		"socket",
		"network",
		"host",
		"resolve",
		"unreachable",
		"connection",
	}
	resourceKeywords = []string{
		"write",
		"disk",
		"no space",
		"file",
		"permission denied",
		"resource",
	}
)

// ClassifyError analyzes a GStreamer error and categorizes it for telemetry.
//
// Classification relies on message heuristics: go-gst's GError does not
// expose the error domain. Device errors are checked first because source
// errors often mention "resource" too.
func ClassifyError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
