package kernel

import (
	"context"
	"sync"
)

// Future is a one-shot session promise. A queue binds to a Future rather than
// a Session so that enqueueing never blocks on connection establishment, and
// so that a queue can observe whether it is still bound to the current
// session instance.
type Future struct {
	once    sync.Once
	done    chan struct{}
	session Session
	err     error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture wraps an already-established session.
func ResolvedFuture(s Session) *Future {
	f := NewFuture()
	f.Resolve(s)

	return f
}

// FailedFuture wraps a connection failure.
func FailedFuture(err error) *Future {
	f := NewFuture()
	f.Reject(err)

	return f
}

// ConnectFuture resolves the future from the provider in the background.
func ConnectFuture(ctx context.Context, provider Provider) *Future {
	f := NewFuture()

	go func() {
		session, err := provider.Connect(ctx)
		if err != nil {
			f.Reject(err)

			return
		}

		f.Resolve(session)
	}()

	return f
}

// Resolve fulfils the future. Later calls to Resolve or Reject are ignored.
func (f *Future) Resolve(s Session) {
	f.once.Do(func() {
		f.session = s
		close(f.done)
	})
}

// Reject fails the future. Later calls to Resolve or Reject are ignored.
func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or the context is cancelled.
func (f *Future) Await(ctx context.Context) (Session, error) {
	select {
	case <-f.done:
		return f.session, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
