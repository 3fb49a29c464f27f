package kernel

import "context"

// ExecuteRequest asks the session to run one unit of code. The request id is
// generated by the caller and correlates every reply.
type ExecuteRequest struct {
	RequestID string
	Code      string
}

// Session is a live connection to one remote kernel process. Implementations
// must be safe for concurrent use, though the execution queue guarantees that
// only one unit transmits at a time.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Execute transmits a request and returns the reply stream for its
	// request id. The channel is closed when the transport stops producing
	// replies for the request, whether or not a terminal reply was seen.
	Execute(ctx context.Context, req ExecuteRequest) (<-chan Message, error)

	// Broadcast returns the session-wide channel of unsolicited messages.
	// Traffic for untracked request ids is expected here and is not an error.
	Broadcast() <-chan Message

	// Interrupt asks the remote process to stop the currently running
	// computation. Cooperative: the computation ends only when the remote
	// side reacts.
	Interrupt(ctx context.Context) error

	// Disposed is closed when the connection is torn down.
	Disposed() <-chan struct{}

	// Err reports why the session was disposed, nil before disposal.
	Err() error
}

// Provider establishes sessions. Connect blocks until the session is live or
// the context is cancelled.
type Provider interface {
	Connect(ctx context.Context) (Session, error)
}
