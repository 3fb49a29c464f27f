package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notekit/kernelq/pkg/kernel"
)

// Request tracks one submitted execution from admission to completion. It
// buffers output deltas in emission order and exposes sent / acknowledged /
// done signals as closed channels. Completion is idempotent: among the
// possible termination triggers (terminal reply, cancellation, session loss)
// the first writer wins.
type Request struct {
	ID         string
	Code       string
	OriginID   string
	EnqueuedAt time.Time

	mu      sync.Mutex
	state   State
	outputs []kernel.Output
	result  Result

	// changed is closed and replaced on every append and on completion,
	// waking all subscribers blocked on "next output available".
	changed chan struct{}

	sent     chan struct{}
	acked    chan struct{}
	done     chan struct{}
	sentOnce sync.Once
	ackOnce  sync.Once
}

// NewRequest creates a request in state Queued. It never fails.
func NewRequest(code, originID string) *Request {
	return newRequest(generateRequestID(), code, originID, StateQueued)
}

// NewResumedRequest re-creates a request whose execution began in a previous
// process lifetime. It starts in Streaming: transmission already happened, so
// the sent and acknowledged signals fire immediately.
func NewResumedRequest(id, code, originID string) *Request {
	r := newRequest(id, code, originID, StateStreaming)
	r.MarkSent()
	r.MarkAcknowledged()

	return r
}

func newRequest(id, code, originID string, state State) *Request {
	return &Request{
		ID:         id,
		Code:       code,
		OriginID:   originID,
		EnqueuedAt: time.Now().UTC(),
		state:      state,
		changed:    make(chan struct{}),
		sent:       make(chan struct{}),
		acked:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func generateRequestID() string {
	return "exec-" + uuid.New().String()[:8]
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Result returns the recorded outcome once the request is terminal.
func (r *Request) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Terminal() {
		return Result{}, false
	}

	return r.result, true
}

// Sent is closed once the request has been transmitted.
func (r *Request) Sent() <-chan struct{} { return r.sent }

// Acknowledged is closed once the remote has accepted the request.
func (r *Request) Acknowledged() <-chan struct{} { return r.acked }

// Done is closed once the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} { return r.done }

// MarkSent fires the transmitted signal. Calling it again is a no-op; the
// signal never fires twice.
func (r *Request) MarkSent() {
	r.sentOnce.Do(func() {
		r.mu.Lock()
		if r.state == StateQueued {
			r.state = StateSent
		}
		r.mu.Unlock()

		close(r.sent)
	})
}

// MarkAcknowledged fires the acknowledged signal at most once.
func (r *Request) MarkAcknowledged() {
	r.ackOnce.Do(func() {
		r.mu.Lock()
		if r.state == StateQueued || r.state == StateSent {
			r.state = StateAcknowledged
		}
		r.mu.Unlock()

		close(r.acked)
	})
}

// AppendOutput appends a delta to the buffer and wakes waiting subscribers.
// Output arriving after a terminal state is discarded.
func (r *Request) AppendOutput(out kernel.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return
	}

	r.state = StateStreaming
	r.outputs = append(r.outputs, out)
	r.wakeLocked()
}

// Complete transitions the request to a terminal state, records the result
// and wakes all waiters. It reports whether this call won; a second call is
// ignored.
func (r *Request) Complete(res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Terminal() {
		return false
	}

	r.state = res.State
	r.result = res
	close(r.done)
	r.wakeLocked()

	return true
}

func (r *Request) wakeLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Outputs returns a snapshot of the buffered deltas in emission order.
func (r *Request) Outputs() []kernel.Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]kernel.Output, len(r.outputs))
	copy(snapshot, r.outputs)

	return snapshot
}

// Stream returns a channel yielding every buffered delta in emission order.
// The channel ends after the request is terminal and the buffer has been
// drained. Cancelling the context ends this subscriber's stream without
// affecting the underlying execution. Each call gets an independent cursor,
// so multiple subscribers each observe the full ordered sequence.
func (r *Request) Stream(ctx context.Context) <-chan kernel.Output {
	out := make(chan kernel.Output)

	go func() {
		defer close(out)

		cursor := 0

		for {
			r.mu.Lock()
			pending := r.outputs[cursor:]
			terminal := r.state.Terminal()
			changed := r.changed
			r.mu.Unlock()

			for _, delta := range pending {
				select {
				case out <- delta:
					cursor++
				case <-ctx.Done():
					return
				}
			}

			// The buffer cannot grow after a terminal state, so once it is
			// drained the stream is complete.
			if terminal {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
