package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notekit/kernelq/pkg/eventbus"
	"github.com/notekit/kernelq/pkg/events"
	"github.com/notekit/kernelq/pkg/kernel"
)

// Queue serializes executions for one document against one session. Units
// are admitted strictly in enqueue order, at most one runs at a time, and
// each runs to a terminal state before the next starts. Once the queue
// fails it can never be reused; the owning coordinator constructs a
// replacement bound to a fresh session future.
//
// The mutual exclusion on the session is enforced purely by the sequential
// admission loop: only the current unit ever transmits.
type Queue struct {
	id         string
	documentID string
	future     *kernel.Future
	tracker    *Tracker
	logger     *slog.Logger
	publisher  eventbus.EventPublisher

	mu      sync.Mutex
	pending []*Unit
	current *Unit
	// running marks that the current unit has been handed to the session;
	// before that point cancellation completes the unit directly, after it
	// cancellation goes through the unit's interrupt path.
	running bool
	failed  bool
	stopped bool
	// changed is closed and replaced whenever the queue's occupancy moves,
	// waking drain waiters.
	changed chan struct{}
	wake    chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewQueue creates a queue bound to the given session future and starts its
// admission loop. The publisher may be nil.
func NewQueue(documentID string, future *kernel.Future, tracker *Tracker, logger *slog.Logger, publisher eventbus.EventPublisher) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	id := "queue-" + uuid.New().String()[:8]

	q := &Queue{
		id:         id,
		documentID: documentID,
		future:     future,
		tracker:    tracker,
		publisher:  publisher,
		changed:    make(chan struct{}),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		logger: logger.With(
			"module", "execution_queue",
			"queue_id", id,
			"document_id", documentID,
		),
	}

	go q.run()

	return q
}

// ID returns the queue identifier.
func (q *Queue) ID() string { return q.id }

// DocumentID returns the document this queue serializes for.
func (q *Queue) DocumentID() string { return q.documentID }

// Future returns the session future this queue is bound to, used by the
// coordinator to decide reuse versus replacement.
func (q *Queue) Future() *kernel.Future { return q.future }

// Enqueue appends a new unit at the tail and returns its request handle
// immediately, without waiting for execution. Admission preserves
// submission order.
func (q *Queue) Enqueue(code, originID string) (*Request, error) {
	q.mu.Lock()

	if q.failed || q.stopped {
		q.mu.Unlock()

		return nil, ErrQueueFailed
	}

	req := NewRequest(code, originID)
	unit := NewUnit(req, q.tracker, q.logger)
	q.pending = append(q.pending, unit)
	q.wakeLocked()
	q.mu.Unlock()

	q.publish(events.ExecutionEnqueued{
		BaseEvent: events.NewBase(events.ExecutionEnqueuedEvent, q.documentID),
		RequestID: req.ID,
		OriginID:  originID,
		CodeSize:  len(code),
	})

	return req, nil
}

// Cancel terminates queued work. Not-yet-started units move directly to
// Cancelled without ever transmitting; the currently running unit is
// interrupted cooperatively, or abandoned immediately when forceful. Safe to
// call repeatedly and concurrently with admission: no unit starts after a
// cancellation has been issued.
func (q *Queue) Cancel(forceful bool) {
	q.mu.Lock()

	queued := q.pending
	q.pending = nil

	var (
		currentDirect *Unit
		currentLive   *Unit
	)

	if q.current != nil {
		if q.running {
			currentLive = q.current
		} else {
			currentDirect = q.current
		}
	}

	q.wakeLocked()
	q.mu.Unlock()

	for _, unit := range queued {
		if unit.Request().Complete(Cancelled(nil)) {
			q.publishCancelled(unit.Request().ID, forceful)
		}
	}

	if currentDirect != nil {
		// Popped by the loop but not yet transmitted (for example while the
		// session future is still resolving): complete it directly so it is
		// skipped without a transmit ever being attempted.
		if currentDirect.Request().Complete(Cancelled(nil)) {
			q.publishCancelled(currentDirect.Request().ID, forceful)
		}
	}

	if currentLive != nil {
		currentLive.Cancel(forceful)
	}
}

// WaitForCompletion blocks until the given request reaches a terminal state,
// or, when req is nil, until the queue drains to empty. Resolves immediately
// on an already-empty queue. The context bounds only this wait; it does not
// cancel the underlying work.
func (q *Queue) WaitForCompletion(ctx context.Context, req *Request) error {
	if req != nil {
		select {
		case <-req.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		q.mu.Lock()
		empty := q.emptyLocked()
		changed := q.changed
		q.mu.Unlock()

		if empty {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsEmpty reports whether no unit is queued or running.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.emptyLocked()
}

// emptyLocked treats a current unit whose request is already terminal as
// gone: it can never transmit, even if the admission loop has not yet
// observed the cancellation (for example while a session future that will
// never resolve is still pending).
func (q *Queue) emptyLocked() bool {
	if len(q.pending) > 0 {
		return false
	}

	if q.current == nil {
		return true
	}

	_, terminal := q.current.Request().Result()

	return terminal
}

// Failed reports whether the queue has entered its terminal failed state.
func (q *Queue) Failed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.failed
}

// Pending returns the requests awaiting or undergoing execution, in order.
func (q *Queue) Pending() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Request, 0, len(q.pending)+1)

	if q.current != nil {
		out = append(out, q.current.Request())
	}

	for _, unit := range q.pending {
		out = append(out, unit.Request())
	}

	return out
}

// Close stops the admission loop after cancelling everything forcefully.
// Used when the queue is being replaced or its document closed.
func (q *Queue) Close() {
	q.Cancel(true)

	q.mu.Lock()
	q.stopped = true
	q.wakeLocked()
	q.mu.Unlock()

	q.cancel()
	<-q.loopDone
}

// run is the admission loop: while the queue is non-empty and not failed,
// pop the head unit, wait for the session, and drive the unit to a terminal
// state before popping the next.
func (q *Queue) run() {
	defer close(q.loopDone)

	for {
		unit := q.next()
		if unit == nil {
			return
		}

		req := unit.Request()
		started := time.Now()

		session, err := q.future.Await(q.ctx)
		if err != nil {
			if q.ctx.Err() != nil {
				// Queue is being closed; Cancel already resolved the units.
				return
			}

			q.failWith(unit, err)

			return
		}

		q.mu.Lock()
		if res, ok := req.Result(); ok {
			// Cancelled while queued or while the session was resolving.
			q.finishLocked()
			q.mu.Unlock()
			q.logger.Debug("Skipping unit cancelled before start", "request_id", req.ID, "state", res.State.String())

			continue
		}

		q.running = true
		q.mu.Unlock()

		q.publish(events.ExecutionStarted{
			BaseEvent: events.NewBase(events.ExecutionStartedEvent, q.documentID),
			RequestID: req.ID,
			SessionID: session.ID(),
		})

		res := unit.Run(q.ctx, session)

		q.mu.Lock()
		q.finishLocked()
		q.mu.Unlock()

		q.publishResult(req.ID, res, time.Since(started))
	}
}

// next blocks until a unit is available and marks it current. Returns nil
// once the queue is stopped.
func (q *Queue) next() *Unit {
	for {
		q.mu.Lock()

		if q.stopped || q.failed {
			q.mu.Unlock()

			return nil
		}

		if len(q.pending) > 0 {
			unit := q.pending[0]
			q.pending = q.pending[1:]
			q.current = unit
			q.running = false
			q.mu.Unlock()

			return unit
		}

		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil
		}
	}
}

// failWith marks the queue failed and cancels the head unit plus everything
// still queued with a session-unavailable cause. Already-started units are
// not affected; there are none here because failure is only observed before
// a unit transmits.
func (q *Queue) failWith(head *Unit, cause error) {
	sessionErr := &SessionUnavailableError{Cause: cause}

	q.mu.Lock()
	q.failed = true
	queued := q.pending
	q.pending = nil
	q.current = nil
	q.wakeLocked()
	q.mu.Unlock()

	head.Request().Complete(Cancelled(sessionErr))

	for _, unit := range queued {
		unit.Request().Complete(Cancelled(sessionErr))
	}

	q.logger.Error("Execution queue failed, queue must be replaced", "error", cause)

	q.publish(events.QueueFailed{
		BaseEvent: events.NewBase(events.QueueFailedEvent, q.documentID),
		Error:     cause.Error(),
	})
}

func (q *Queue) finishLocked() {
	q.current = nil
	q.running = false
	q.wakeLocked()
}

// wakeLocked nudges the admission loop and wakes drain waiters.
func (q *Queue) wakeLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}

	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) publish(event eventbus.Event) {
	if q.publisher == nil {
		return
	}

	if err := q.publisher.Publish(q.ctx, q.documentID, event); err != nil {
		q.logger.Warn("Failed to publish queue event", "event_type", string(event.GetType()), "error", err)
	}
}

func (q *Queue) publishCancelled(requestID string, forceful bool) {
	q.publish(events.ExecutionCancelled{
		BaseEvent: events.NewBase(events.ExecutionCancelledEvent, q.documentID),
		RequestID: requestID,
		Forceful:  forceful,
	})
}

func (q *Queue) publishResult(requestID string, res Result, duration time.Duration) {
	switch res.State {
	case StateSucceeded:
		q.publish(events.ExecutionCompleted{
			BaseEvent: events.NewBase(events.ExecutionCompletedEvent, q.documentID),
			RequestID: requestID,
			Duration:  duration,
		})
	case StateFailed:
		msg := "execution failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}

		q.publish(events.ExecutionFailed{
			BaseEvent: events.NewBase(events.ExecutionFailedEvent, q.documentID),
			RequestID: requestID,
			Error:     msg,
			Duration:  duration,
		})
	case StateCancelled:
		q.publishCancelled(requestID, false)
	default:
	}
}
