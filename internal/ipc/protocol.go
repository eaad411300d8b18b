// Package ipc carries daemon control traffic over a unix socket:
// JSON-lines requests from the CLI verbs, one response per connection.
package ipc

// Commands understood by the conversation daemon.
const (
	CommandStatus     = "status"
	CommandTranscript = "transcript"
	CommandStop       = "stop"
)

// Request is one CLI command addressed to the running daemon.
type Request struct {
	Command string `json:"command"`
}

// Response reports the outcome. State carries the controller phase,
// Message the human-readable payload (a status line or the rendered
// transcript), Error the failure reason when OK is false.
type Response struct {
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
