package live

// Event is one item in the normalized event stream a Session produces.
// Events are emitted only by the receive loop and consumed by a single
// reader, in the exact order the model endpoint produced them. The stream
// ends when the session's event channel is closed.
type Event interface {
	eventType() string
}

// UserTranscriptEvent is a delta of the input-audio transcription (what the
// user is saying).
type UserTranscriptEvent struct {
	Text string
}

func (UserTranscriptEvent) eventType() string { return "user" }

// ModelTranscriptEvent is a delta of the output-audio transcription (what
// the model is saying).
type ModelTranscriptEvent struct {
	Text string
}

func (ModelTranscriptEvent) eventType() string { return "gemini" }

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// InterruptedEvent signals that model generation was cut off by user speech.
type InterruptedEvent struct{}

func (InterruptedEvent) eventType() string { return "interrupted" }

// ToolCallEvent reports one completed tool invocation, including synthesized
// error results for unregistered or failing tools.
type ToolCallEvent struct {
	Name   string
	Args   map[string]any
	Result any
}

func (ToolCallEvent) eventType() string { return "tool_call" }

// PromptReadyEvent is the specialization of ToolCallEvent for a successful
// run of the designated prompt-generation tool.
type PromptReadyEvent struct {
	Prompt string
}

func (PromptReadyEvent) eventType() string { return "prompt_ready" }

// ErrorEvent reports a model-channel failure. The receive loop emits it and
// then closes the event stream.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) eventType() string { return "error" }
