package execution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/notekit/kernelq/pkg/kernel"
)

// Unit owns the protocol exchange for exactly one request against one live
// session: it transmits the request, consumes the correlated reply stream,
// converts messages into output deltas and resolves the request's completion
// signal. A unit runs to a terminal state before the queue admits the next
// one.
type Unit struct {
	req     *Request
	tracker *Tracker
	logger  *slog.Logger

	cancelOnce sync.Once
	cancelCh   chan struct{}
	forceOnce  sync.Once
	forcedCh   chan struct{}
}

func NewUnit(req *Request, tracker *Tracker, logger *slog.Logger) *Unit {
	return &Unit{
		req:      req,
		tracker:  tracker,
		logger:   logger.With("request_id", req.ID),
		cancelCh: make(chan struct{}),
		forcedCh: make(chan struct{}),
	}
}

func (u *Unit) Request() *Request {
	return u.req
}

// Cancel asks the unit to stop. Graceful cancellation interrupts the remote
// computation and keeps draining messages until it winds down; forceful
// cancellation abandons the wait immediately. Safe to call repeatedly and to
// escalate from graceful to forceful.
func (u *Unit) Cancel(forceful bool) {
	u.cancelOnce.Do(func() { close(u.cancelCh) })

	if forceful {
		u.forceOnce.Do(func() { close(u.forcedCh) })
	}
}

// Run drives the request to a terminal state and returns its result. The
// request is registered with the tracker for the duration of the exchange so
// broadcast traffic can be demultiplexed to it.
func (u *Unit) Run(ctx context.Context, session kernel.Session) Result {
	if res, ok := u.req.Result(); ok {
		// Cancelled while still queued; nothing was ever transmitted.
		return res
	}

	if err := u.tracker.Register(u.req); err != nil {
		res := Failed(err)
		u.req.Complete(res)

		return res
	}
	defer u.tracker.Unregister(u.req.ID)

	// A cancellation issued before transmission must win without the
	// request ever reaching the session.
	select {
	case <-u.cancelCh:
		return u.finish(Cancelled(nil))
	case <-ctx.Done():
		return u.finish(Cancelled(ctx.Err()))
	default:
	}

	replies, err := session.Execute(ctx, kernel.ExecuteRequest{RequestID: u.req.ID, Code: u.req.Code})
	if err != nil {
		return u.finish(Failed(&SessionLostError{SessionID: session.ID(), Cause: err}))
	}

	u.req.MarkSent()
	u.logger.DebugContext(ctx, "Transmitted execute request", "session_id", session.ID())

	var (
		cancelRequested bool
		remoteErr       *RemoteExecutionError
		cancelCh        = u.cancelCh
	)

	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				// Reply stream ended without a terminal reply.
				if cancelRequested {
					return u.finish(Cancelled(nil))
				}

				return u.finish(Failed(&SessionLostError{SessionID: session.ID(), Cause: session.Err()}))
			}

			if done, res := u.apply(msg, cancelRequested, &remoteErr); done {
				return u.finish(res)
			}

		case <-cancelCh:
			cancelCh = nil
			cancelRequested = true

			if err := session.Interrupt(ctx); err != nil {
				u.logger.WarnContext(ctx, "Failed to interrupt kernel", "error", err)
			}

		case <-u.forcedCh:
			// Abandon waiting locally; the remote computation is not
			// forcibly terminated.
			return u.finish(Cancelled(nil))

		case <-session.Disposed():
			return u.finish(Failed(&SessionLostError{SessionID: session.ID(), Cause: session.Err()}))

		case <-ctx.Done():
			return u.finish(Cancelled(ctx.Err()))
		}
	}
}

func (u *Unit) finish(res Result) Result {
	if !u.req.Complete(res) {
		// A concurrent termination trigger won; report what it recorded.
		recorded, _ := u.req.Result()

		return recorded
	}

	return res
}

// apply folds one reply message into the request. It reports whether the
// message was terminal and, if so, the resulting outcome.
func (u *Unit) apply(msg kernel.Message, cancelRequested bool, remoteErr **RemoteExecutionError) (bool, Result) {
	switch msg.Kind {
	case kernel.KindExecuteInput:
		u.req.MarkAcknowledged()

	case kernel.KindStream:
		if !cancelRequested {
			u.req.AppendOutput(kernel.Output{Channel: msg.Stream, Text: msg.Text})
		}

	case kernel.KindDisplayData:
		if !cancelRequested {
			u.req.AppendOutput(kernel.Output{Channel: "display", Data: msg.Data})
		}

	case kernel.KindExecuteResult:
		if !cancelRequested {
			u.req.AppendOutput(kernel.Output{Channel: "result", Data: msg.Data})
		}

	case kernel.KindError:
		*remoteErr = &RemoteExecutionError{Name: msg.ErrName, Value: msg.ErrValue, Traceback: msg.Traceback}

		if !cancelRequested {
			u.req.AppendOutput(kernel.Output{Channel: "error", Text: msg.ErrValue})
		}

	case kernel.KindExecuteReply:
		switch {
		case cancelRequested:
			return true, Cancelled(nil)
		case !msg.Success && *remoteErr != nil:
			return true, Failed(*remoteErr)
		case !msg.Success:
			return true, Failed(&RemoteExecutionError{Name: "ExecutionFailed", Value: "terminal reply reported an error"})
		default:
			return true, Succeeded()
		}

	case kernel.KindStatus:
		// Session status chatter, nothing to fold in.
	}

	return false, Result{}
}
