package audiostream

import "fmt"

// Stage ids of the graph assembled by BuildGraph
const (
	StageCapture       StageID = "capture"
	StageFormat        StageID = "format"
	StageResample      StageID = "resample"
	StageJunction      StageID = "tee"
	StageStreamBuffer  StageID = "stream-buffer"
	StageStreamEncode  StageID = "stream-encode"
	StageStreamPayload StageID = "stream-payload"
	StageStreamSend    StageID = "stream-send"
	StageRecordBuffer  StageID = "record-buffer"
	StageRecordEncode  StageID = "record-encode"
	StageRecordMux     StageID = "record-mux"
	StageRecordSink    StageID = "record-sink"
)

// BuildGraph assembles and validates the pipeline topology for cfg.
//
// Streaming only:
//
//	capture -> format -> resample -> encode -> payload -> send
//
// With recording, a junction after resample feeds both branches and each
// branch starts with its own leaky buffer, so a slow disk never stalls the
// stream and a slow network never starves the recording:
//
//	... -> resample -> tee -+-> buffer -> encode -> payload -> send
//	                        +-> buffer -> encode -> mux -> segments
//
// Returns a *StageCreationError when a stage configuration is invalid and a
// *LinkError when the topology does not validate.
func BuildGraph(cfg Config) (*Graph, error) {
	b := &graphBuilder{g: NewGraph()}

	b.add(StageCapture, cfg.Capture)
	b.add(StageFormat, FormatConfig{Format: cfg.Format})
	b.add(StageResample, ResampleConfig{Quality: cfg.ResampleQuality})
	b.add(StageStreamEncode, cfg.Stream.Encoder)
	b.add(StageStreamPayload, cfg.streamPayload())
	b.add(StageStreamSend, cfg.Stream.Transport)

	if cfg.Record.Enabled {
		b.add(StageJunction, JunctionConfig{Branches: 2})
		b.add(StageStreamBuffer, cfg.Stream.Buffer)
		b.add(StageRecordBuffer, cfg.Record.Buffer)
		b.add(StageRecordEncode, cfg.Record.Encoder)
		b.add(StageRecordMux, cfg.Record.Mux)
		b.add(StageRecordSink, cfg.Record.Segment)
	}
	if b.err != nil {
		return nil, b.err
	}

	// capture devices rarely match the pinned format exactly
	b.g.AllowConversion(StageCapture, StageFormat)
	b.chain(StageCapture, StageFormat, StageResample)

	streamHead := StageResample
	if cfg.Record.Enabled {
		b.chain(StageResample, StageJunction)
		b.link(StageJunction, BranchPort(0), StageStreamBuffer)
		b.link(StageJunction, BranchPort(1), StageRecordBuffer)
		streamHead = StageStreamBuffer

		// the recording encoder may need another sample layout
		b.g.AllowConversion(StageRecordBuffer, StageRecordEncode)
		b.chain(StageRecordBuffer, StageRecordEncode, StageRecordMux, StageRecordSink)
	}

	if cfg.Stream.Encoder.Codec == CodecPCM {
		// raw payloaders want network byte order
		b.g.AllowConversion(StageStreamEncode, StageStreamPayload)
	}
	b.chain(streamHead, StageStreamEncode, StageStreamPayload, StageStreamSend)

	if b.err != nil {
		return nil, &LinkError{Err: b.err}
	}
	if err := b.g.Validate(); err != nil {
		return nil, &LinkError{Err: err}
	}
	return b.g, nil
}

// graphBuilder records the first error so the assembly reads top-down.
type graphBuilder struct {
	g   *Graph
	err error
}

func (b *graphBuilder) add(id StageID, cfg StageConfig) {
	if b.err != nil {
		return
	}
	s, err := NewStage(id, cfg)
	if err != nil {
		b.err = &StageCreationError{Stage: id, Kind: cfg.Kind(), Err: err}
		return
	}
	if err := b.g.AddStage(s); err != nil {
		b.err = fmt.Errorf("add stage %s: %w", id, err)
	}
}

func (b *graphBuilder) chain(ids ...StageID) {
	if b.err != nil {
		return
	}
	b.err = b.g.Chain(ids...)
}

func (b *graphBuilder) link(from StageID, port string, to StageID) {
	if b.err != nil {
		return
	}
	b.err = b.g.Link(from, port, to, PortSink)
}
