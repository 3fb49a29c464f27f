// Package kernel defines the narrow seam between the execution layer and the
// remote compute session: message shapes, the session handle, and the
// session-establishment future. The wire transport itself lives behind the
// Session interface and is not implemented here.
package kernel

// MessageKind distinguishes the message types the execution layer cares
// about. The transport may carry more; anything else is dropped before it
// reaches this layer.
type MessageKind int

const (
	KindStatus MessageKind = iota
	// KindExecuteInput is the remote acknowledgement that a request was
	// accepted for execution.
	KindExecuteInput
	KindStream
	KindDisplayData
	KindExecuteResult
	KindError
	// KindExecuteReply is the terminal reply for a request.
	KindExecuteReply
)

var kindNames = map[MessageKind]string{
	KindStatus:        "status",
	KindExecuteInput:  "execute_input",
	KindStream:        "stream",
	KindDisplayData:   "display_data",
	KindExecuteResult: "execute_result",
	KindError:         "error",
	KindExecuteReply:  "execute_reply",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Message is one demultiplexable unit of session traffic. Every message that
// belongs to a tracked request carries the originating request id.
type Message struct {
	Kind      MessageKind
	RequestID string

	// Stream payload.
	Stream string // "stdout" or "stderr"
	Text   string

	// Rich payload for display_data / execute_result, keyed by MIME type.
	Data map[string]any

	// Error payload.
	ErrName   string
	ErrValue  string
	Traceback []string

	// Terminal reply outcome.
	Success bool
}

// Output is one delta delivered to a request's subscribers. Conversion to the
// document's output representation happens outside this layer.
type Output struct {
	Channel string         `json:"channel"` // "stdout", "stderr", "display", "result", "error"
	Text    string         `json:"text,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
