package execution

// State is the lifecycle state of a request.
//
//	Queued -> Sent -> Acknowledged -> Streaming -> {Succeeded, Failed, Cancelled}
//
// The Acknowledged hop is optional: a request may move straight to Streaming
// when the remote protocol omits a separate acknowledgement.
type State int

const (
	StateQueued State = iota
	StateSent
	StateAcknowledged
	StateStreaming
	StateSucceeded
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateQueued:       "queued",
	StateSent:         "sent",
	StateAcknowledged: "acknowledged",
	StateStreaming:    "streaming",
	StateSucceeded:    "succeeded",
	StateFailed:       "failed",
	StateCancelled:    "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Result records how a request ended. Err is nil for success and may be nil
// for cancellation; for failures it carries the cause.
type Result struct {
	State State
	Err   error
}

func Succeeded() Result {
	return Result{State: StateSucceeded}
}

func Failed(err error) Result {
	return Result{State: StateFailed, Err: err}
}

func Cancelled(cause error) Result {
	return Result{State: StateCancelled, Err: cause}
}
