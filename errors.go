package audiostream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is returned when a Controller operation is not allowed
	// in the current pipeline state
	ErrInvalidState = errors.New("audio-stream: invalid pipeline state")
	// ErrWriterClosed is returned by SegmentWriter.Write after Close
	ErrWriterClosed = errors.New("audio-stream: segment writer is closed")
)

// GraphErrorKind classifies topology errors
type GraphErrorKind int

const (
	// FormatMismatch: adjacent stages cannot agree on a media format
	FormatMismatch GraphErrorKind = iota
	// Cycle: the link set contains a cycle
	Cycle
	// DanglingPort: a declared port has no link
	DanglingPort
	// UnknownStage: a link references a stage that was never added
	UnknownStage
	// UnknownPort: a link references a port the stage does not declare
	UnknownPort
	// DuplicateStage: two stages share one id
	DuplicateStage
	// PortInUse: a port already carries a link
	PortInUse
)

// String returns a human-readable string representation of the error kind
func (k GraphErrorKind) String() string {
	switch k {
	case FormatMismatch:
		return "format mismatch"
	case Cycle:
		return "cycle"
	case DanglingPort:
		return "dangling port"
	case UnknownStage:
		return "unknown stage"
	case UnknownPort:
		return "unknown port"
	case DuplicateStage:
		return "duplicate stage"
	case PortInUse:
		return "port in use"
	default:
		return "unknown"
	}
}

// GraphError reports an invalid topology.
type GraphError struct {
	Kind   GraphErrorKind
	Stage  StageID
	Port   string
	Detail string
}

func (e *GraphError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "audio-stream: graph %s", e.Kind)
	if e.Stage != "" {
		fmt.Fprintf(&b, " at %s", e.Stage)
		if e.Port != "" {
			fmt.Fprintf(&b, ":%s", e.Port)
		}
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// StageCreationError reports that the runtime could not instantiate a stage
// (missing plugin or codec, unavailable capture device).
type StageCreationError struct {
	Stage StageID
	Kind  StageKind
	Err   error
}

func (e *StageCreationError) Error() string {
	return fmt.Sprintf("audio-stream: failed to create stage %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageCreationError) Unwrap() error { return e.Err }

// LinkError reports an invalid topology or a link refused by the runtime.
type LinkError struct {
	// Link is the offending link; zero when the error concerns the whole graph
	Link Link
	Err  error
}

func (e *LinkError) Error() string {
	if e.Link.From == "" {
		return fmt.Sprintf("audio-stream: link failed: %v", e.Err)
	}
	return fmt.Sprintf("audio-stream: failed to link %s: %v", e.Link, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// ActivationError reports that the runtime refused to activate a stage.
//
// The Controller has already rolled back every stage it activated when this
// error is returned; RollbackErr carries failures from that rollback.
type ActivationError struct {
	Stage       StageID
	Err         error
	RollbackErr error
}

func (e *ActivationError) Error() string {
	msg := fmt.Sprintf("audio-stream: failed to activate stage %s: %v", e.Stage, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback: %v)", e.RollbackErr)
	}
	return msg
}

func (e *ActivationError) Unwrap() error { return e.Err }

// RuntimeError is an error reported by a stage while the pipeline was playing.
type RuntimeError struct {
	Stage   StageID
	Message string
	Debug   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("audio-stream: error received from stage %s: %s", e.Stage, e.Message)
}

// StageFailure pairs a stage with the error it returned.
type StageFailure struct {
	Stage StageID
	Err   error
}

// DeactivationError collects every stage that failed to release.
type DeactivationError struct {
	Failures []StageFailure
}

func (e *DeactivationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Stage, f.Err))
	}
	return fmt.Sprintf("audio-stream: failed to release %d stage(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every failure to errors.Is / errors.As.
func (e *DeactivationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
