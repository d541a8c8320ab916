package audiostream

import (
	"fmt"
)

// StageKind names the transformation a stage performs.
type StageKind string

const (
	KindCapture   StageKind = "capture"
	KindFormat    StageKind = "format-constrain"
	KindConvert   StageKind = "convert"
	KindResample  StageKind = "resample"
	KindEncode    StageKind = "encode"
	KindPayload   StageKind = "payload"
	KindTransport StageKind = "transport-send"
	KindJunction  StageKind = "junction"
	KindBuffer    StageKind = "buffer"
	KindMux       StageKind = "mux"
	KindSegment   StageKind = "segment-write"
)

// IsSource reports whether stages of this kind have no input port.
func (k StageKind) IsSource() bool {
	return k == KindCapture
}

// IsSink reports whether stages of this kind have no output port.
func (k StageKind) IsSink() bool {
	return k == KindTransport || k == KindSegment
}

// StageID identifies a stage instance inside one graph.
type StageID string

// Port names
const (
	PortSrc  = "src"
	PortSink = "sink"
)

// BranchPort returns the name of the i-th junction output port.
func BranchPort(i int) string {
	return fmt.Sprintf("src_%d", i)
}

// Stage is one configured processing unit of the graph.
//
// Stages are plain data: creating one never touches the runtime. The runtime
// realizes a stage when the Controller builds the pipeline. The configuration
// is fixed at creation and only readable through Config.
type Stage struct {
	ID StageID

	config  StageConfig
	inputs  []string
	outputs []string
}

// NewStage validates cfg and declares the ports of the stage.
//
// Pointers to the configuration types are accepted and copied, so later
// changes through the pointer do not reach the stage.
//
// Returns an error if the id is empty, cfg is nil or cfg fails validation.
func NewStage(id StageID, cfg StageConfig) (*Stage, error) {
	if id == "" {
		return nil, fmt.Errorf("audio-stream: stage id is required")
	}
	cfg, err := configValue(cfg)
	if err != nil {
		return nil, fmt.Errorf("audio-stream: stage %q: %w", id, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audio-stream: stage %q (%s): %w", id, cfg.Kind(), err)
	}

	s := &Stage{ID: id, config: cfg}
	kind := cfg.Kind()
	if !kind.IsSource() {
		s.inputs = []string{PortSink}
	}
	switch {
	case kind == KindJunction:
		j, ok := cfg.(JunctionConfig)
		if !ok {
			return nil, fmt.Errorf("audio-stream: stage %q: junction kind with %T config", id, cfg)
		}
		for i := 0; i < j.Branches; i++ {
			s.outputs = append(s.outputs, BranchPort(i))
		}
	case !kind.IsSink():
		s.outputs = []string{PortSrc}
	}
	return s, nil
}

// configValue dereferences pointer configurations so runtimes only ever
// see value types.
func configValue(cfg StageConfig) (StageConfig, error) {
	var v StageConfig
	switch c := cfg.(type) {
	case nil:
		return nil, fmt.Errorf("config is required")
	case *CaptureConfig:
		if c != nil {
			v = *c
		}
	case *FormatConfig:
		if c != nil {
			v = *c
		}
	case *ConvertConfig:
		if c != nil {
			v = *c
		}
	case *ResampleConfig:
		if c != nil {
			v = *c
		}
	case *EncoderConfig:
		if c != nil {
			v = *c
		}
	case *PayloadConfig:
		if c != nil {
			v = *c
		}
	case *TransportConfig:
		if c != nil {
			v = *c
		}
	case *JunctionConfig:
		if c != nil {
			v = *c
		}
	case *BufferConfig:
		if c != nil {
			v = *c
		}
	case *MuxConfig:
		if c != nil {
			v = *c
		}
	case *SegmentConfig:
		if c != nil {
			v = *c
		}
	default:
		return cfg, nil
	}
	if v == nil {
		return nil, fmt.Errorf("config is required")
	}
	return v, nil
}

// Config returns the stage configuration.
func (s *Stage) Config() StageConfig {
	return s.config
}

// Kind returns the kind of the stage configuration.
func (s *Stage) Kind() StageKind {
	return s.config.Kind()
}

// Inputs returns the declared input ports.
func (s *Stage) Inputs() []string {
	return append([]string(nil), s.inputs...)
}

// Outputs returns the declared output ports.
func (s *Stage) Outputs() []string {
	return append([]string(nil), s.outputs...)
}

func (s *Stage) hasInput(port string) bool {
	for _, p := range s.inputs {
		if p == port {
			return true
		}
	}
	return false
}

func (s *Stage) hasOutput(port string) bool {
	for _, p := range s.outputs {
		if p == port {
			return true
		}
	}
	return false
}

func (s *Stage) String() string {
	return fmt.Sprintf("%s(%s)", s.ID, s.Kind())
}
