package execution

import (
	"context"
	"log/slog"

	"github.com/notekit/kernelq/pkg/kernel"
)

// PumpBroadcast routes a session's unsolicited messages to the requests
// tracked for it. Messages for unknown ids are session-level traffic not
// belonging to a tracked request and are silently dropped. This is also the
// delivery path for requests resumed from a previous process lifetime, whose
// terminal reply arrives here rather than on a per-request reply stream.
//
// Returns when the session is disposed or the context is cancelled; on
// disposal every still-tracked request is failed with a session-lost cause
// so no waiter hangs.
func PumpBroadcast(ctx context.Context, session kernel.Session, tracker *Tracker, logger *slog.Logger) {
	logger = logger.With("module", "broadcast_pump", "session_id", session.ID())

	for {
		select {
		case msg, ok := <-session.Broadcast():
			if !ok {
				tracker.FailAll(Failed(&SessionLostError{SessionID: session.ID(), Cause: session.Err()}))

				return
			}

			applyBroadcast(tracker, msg, logger)

		case <-session.Disposed():
			tracker.FailAll(Failed(&SessionLostError{SessionID: session.ID(), Cause: session.Err()}))

			return

		case <-ctx.Done():
			return
		}
	}
}

func applyBroadcast(tracker *Tracker, msg kernel.Message, logger *slog.Logger) {
	req, ok := tracker.Resolve(msg.RequestID)
	if !ok {
		return
	}

	switch msg.Kind {
	case kernel.KindExecuteInput:
		req.MarkAcknowledged()

	case kernel.KindStream:
		req.AppendOutput(kernel.Output{Channel: msg.Stream, Text: msg.Text})

	case kernel.KindDisplayData:
		req.AppendOutput(kernel.Output{Channel: "display", Data: msg.Data})

	case kernel.KindExecuteResult:
		req.AppendOutput(kernel.Output{Channel: "result", Data: msg.Data})

	case kernel.KindError:
		req.AppendOutput(kernel.Output{Channel: "error", Text: msg.ErrValue})

	case kernel.KindExecuteReply:
		// Terminal replies normally arrive on the per-request reply stream;
		// seeing one here means the request was resumed from a previous
		// process lifetime. First writer wins if the unit path raced us.
		var res Result
		if msg.Success {
			res = Succeeded()
		} else {
			res = Failed(&RemoteExecutionError{Name: msg.ErrName, Value: msg.ErrValue, Traceback: msg.Traceback})
		}

		if req.Complete(res) {
			logger.Debug("Resumed request completed via broadcast", "request_id", req.ID, "state", res.State.String())
		}

		tracker.Unregister(req.ID)

	case kernel.KindStatus:
	}
}
