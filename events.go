package audiostream

import "fmt"

// TerminalEvent ends the active run of a pipeline.
//
// The set is closed: ErrorEvent and EndOfStream are the only
// implementations, so a type switch over them is exhaustive.
type TerminalEvent interface {
	terminal()
	String() string
}

// ErrorEvent is posted when a stage fails while playing.
type ErrorEvent struct {
	// Source is the id of the stage that reported the error
	Source StageID
	// Message is the human-readable error
	Message string
	// Debug carries optional diagnostic detail from the runtime
	Debug string
}

func (ErrorEvent) terminal() {}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("error from %s: %s", e.Source, e.Message)
}

// EndOfStream is posted once every sink has received end-of-stream.
type EndOfStream struct{}

func (EndOfStream) terminal() {}

func (EndOfStream) String() string {
	return "end-of-stream"
}
