package gstreamer

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
)

// busPollInterval bounds how long Wait takes to notice cancellation
const busPollInterval = 50 * time.Millisecond

// Wait polls the pipeline bus until EOS or an error message.
//
// Returns nil if ctx is cancelled first. Write failures reported by segment
// sinks end the wait like bus errors. Warnings and state changes are logged
// and otherwise ignored.
func (r *Runtime) Wait(ctx context.Context) audiostream.TerminalEvent {
	bus := r.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstreamer: context cancelled, stopping bus monitor")
			return nil

		case ev := <-r.sinkErrs:
			return ev

		default:
			// short timeout keeps shutdown responsive
			msg := bus.TimedPop(busPollInterval)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("gstreamer: end of stream received")
				return audiostream.EndOfStream{}

			case gst.MessageError:
				// a segment sink failure surfaces upstream as a flow error
				select {
				case ev := <-r.sinkErrs:
					return ev
				default:
				}
				gerr := msg.ParseError()
				ev := audiostream.ErrorEvent{
					Source:  r.stageOf(msg.Source()),
					Message: gerr.Error(),
					Debug:   gerr.DebugString(),
				}
				slog.Error("gstreamer: pipeline error",
					"element", msg.Source(),
					"stage", ev.Source,
					"error", ev.Message,
					"category", ClassifyError(gerr).String(),
				)
				return ev

			case gst.MessageWarning:
				gerr := msg.ParseWarning()
				slog.Warn("gstreamer: pipeline warning",
					"element", msg.Source(),
					"warning", gerr.Error(),
				)

			case gst.MessageStateChanged:
				if msg.Source() == r.pipeline.GetName() {
					old, new := msg.ParseStateChanged()
					slog.Debug("gstreamer: pipeline state changed",
						"from", old,
						"to", new,
					)
				}
			}
		}
	}
}

// OnPadAdded links a dynamic source pad to the sink pad of sinkElement.
//
// decodebin only exposes its output once the file type is known, so the
// link to the next stage is made from its pad-added signal. Pads added after
// the first link are ignored.
func OnPadAdded(srcElement *gst.Element, srcPad *gst.Pad, sinkElement *gst.Element) {
	slog.Debug("gstreamer: pad-added signal received",
		"element", srcElement.GetName(),
		"pad", srcPad.GetName(),
	)

	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstreamer: failed to get sink pad", "element", sinkElement.GetName())
		return
	}
	if sinkPad.IsLinked() {
		slog.Debug("gstreamer: sink pad already linked, ignoring pad", "pad", srcPad.GetName())
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstreamer: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("gstreamer: pads linked successfully",
		"src_pad", srcPad.GetName(),
		"sink_pad", sinkPad.GetName(),
	)
}
