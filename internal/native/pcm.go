package native

import (
	"encoding/binary"
	"fmt"
	"time"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// Defaults applied when the negotiated format leaves a field open
const (
	defaultChannels         = 1
	defaultDepth            = 16
	defaultRate             = 44100
	defaultSamplesPerBuffer = 1024
)

// concrete fills the open fields of f with the native defaults.
func concrete(f audiostream.MediaFormat) audiostream.MediaFormat {
	return f.Intersect(audiostream.RawFormat(defaultChannels, defaultDepth, defaultRate))
}

// frameDuration returns the playback time of frames sample frames at rate.
func frameDuration(frames, rate int) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// convertUnit remixes interleaved 16-bit PCM to the layout of target.
//
// Zero fields of target keep the layout of u. Only channel remixing is
// supported: a different depth or rate is an error.
func convertUnit(u audiostream.Unit, target audiostream.MediaFormat) (audiostream.Unit, error) {
	in := u.Format
	if in.Encoding != audiostream.EncodingRaw {
		return u, fmt.Errorf("cannot convert %s", in)
	}
	out := target.Intersect(in)
	out.Encoding = audiostream.EncodingRaw

	if in.Depth != defaultDepth || out.Depth != defaultDepth {
		return u, fmt.Errorf("only 16-bit PCM is supported, got %d -> %d bits", in.Depth, out.Depth)
	}
	if out.Rate != in.Rate {
		return u, fmt.Errorf("resampling %d Hz -> %d Hz is not supported", in.Rate, out.Rate)
	}
	if out.Channels == in.Channels {
		u.Format = out
		return u, nil
	}

	u.Data = remix(u.Data, in.Channels, out.Channels)
	u.Format = out
	return u, nil
}

// remix converts interleaved little-endian s16 samples between channel
// counts. Downmixing averages the input channels; upmixing copies the
// averaged sample to every output channel.
func remix(data []byte, from, to int) []byte {
	frames := len(data) / (2 * from)
	out := make([]byte, frames*2*to)

	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < from; c++ {
			off := (f*from + c) * 2
			sum += int(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		mixed := uint16(int16(sum / from))
		for c := 0; c < to; c++ {
			binary.LittleEndian.PutUint16(out[(f*to+c)*2:], mixed)
		}
	}
	return out
}

// int16ToBytes encodes samples as little-endian s16.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// swap16 converts s16 samples between little and big endian.
func swap16(data []byte) []byte {
	out := make([]byte, len(data))
	for i := 0; i+1 < len(data); i += 2 {
		out[i], out[i+1] = data[i+1], data[i]
	}
	return out
}
