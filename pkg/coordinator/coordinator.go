// Package coordinator owns the document-to-queue association and maps
// session lifecycle triggers (interrupt, restart, teardown, document closed)
// onto queue operations in the correct order. It is invoked directly by
// whoever owns session lifecycle transitions; there is no ambient hook
// registration.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/notekit/kernelq/pkg/eventbus"
	"github.com/notekit/kernelq/pkg/events"
	"github.com/notekit/kernelq/pkg/execution"
	"github.com/notekit/kernelq/pkg/kernel"
	"github.com/notekit/kernelq/pkg/persistence"
)

// ErrNotCodeCell is returned when a non-code cell is submitted for
// execution.
var ErrNotCodeCell = errors.New("cell does not contain code")

type CellKind int

const (
	CellCode CellKind = iota
	CellMarkup
)

// Cell is the slice of the document model this layer needs: identity, kind
// and source text. Rendering outputs back into the document happens outside.
type Cell struct {
	ID       string
	Kind     CellKind
	Language string
	Source   string
}

// binding ties one document to its queue, session future and correlation
// tracker. Replaced wholesale on restart or queue failure; stale bindings
// are never resurrected.
type binding struct {
	queue      *execution.Queue
	future     *kernel.Future
	tracker    *execution.Tracker
	pumpCancel context.CancelFunc
}

type Coordinator struct {
	provider  kernel.Provider
	store     persistence.ResumeRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	mu       sync.Mutex
	docs     map[string]*binding
	requests map[string]*requestEntry

	ctx    context.Context
	cancel context.CancelFunc
}

type requestEntry struct {
	req        *execution.Request
	documentID string
}

// NewCoordinator creates a coordinator. The resume store and event publisher
// may be nil.
func NewCoordinator(provider kernel.Provider, store persistence.ResumeRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		provider:  provider,
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "lifecycle_coordinator"),
		docs:      make(map[string]*binding),
		requests:  make(map[string]*requestEntry),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ExecuteCell enqueues a cell's code for execution and returns the request
// handle immediately. codeOverride, when non-empty, is executed in place of
// the cell's source.
func (c *Coordinator) ExecuteCell(ctx context.Context, documentID string, cell Cell, codeOverride string) (*execution.Request, error) {
	if cell.Kind != CellCode {
		return nil, ErrNotCodeCell
	}

	code := cell.Source
	if codeOverride != "" {
		code = codeOverride
	}

	return c.enqueue(ctx, documentID, code, cell.ID, cell.ID)
}

// ExecuteCode enqueues a raw code string on behalf of an external caller.
func (c *Coordinator) ExecuteCode(ctx context.Context, documentID, code, originID string) (*execution.Request, error) {
	return c.enqueue(ctx, documentID, code, originID, "")
}

// StreamCode enqueues code and returns a lazy stream of its output deltas.
// The stream yields each delta once available and ends when the request
// reaches a terminal state. Cancelling the context ends the stream; if the
// cancellation lands before the request was ever transmitted, the request
// itself resolves Cancelled without transmitting.
func (c *Coordinator) StreamCode(ctx context.Context, documentID, code, originID string) (<-chan kernel.Output, *execution.Request, error) {
	req, err := c.enqueue(ctx, documentID, code, originID, "")
	if err != nil {
		return nil, nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-req.Sent():
				// Already transmitted; the caller stops listening but the
				// remote execution is left to finish.
			default:
				req.Complete(execution.Cancelled(ctx.Err()))
			}
		case <-req.Done():
		}
	}()

	return req.Stream(ctx), req, nil
}

// ResumeCell re-attaches a request whose execution began in a previous
// process lifetime. Non-code cells and cells with no recorded pending
// execution are skipped, returning nil.
func (c *Coordinator) ResumeCell(ctx context.Context, documentID string, cell Cell) (*execution.Request, error) {
	if cell.Kind != CellCode {
		return nil, nil
	}

	if c.store == nil {
		return nil, nil
	}

	pendings, err := c.store.FindByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var match *persistence.PendingExecution

	for _, pending := range pendings {
		if pending.CellID == cell.ID {
			match = pending

			break
		}
	}

	if match == nil {
		return nil, nil
	}

	c.mu.Lock()
	b := c.bindingForLocked(documentID)
	req := execution.NewResumedRequest(match.RequestID, match.Code, match.OriginID)

	if err := b.tracker.Register(req); err != nil {
		c.mu.Unlock()

		return nil, err
	}

	c.requests[req.ID] = &requestEntry{req: req, documentID: documentID}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Re-attached execution from previous process",
		"document_id", documentID,
		"cell_id", cell.ID,
		"request_id", req.ID,
	)

	go c.clearPendingOnDone(documentID, req)

	return req, nil
}

// Interrupt cooperatively stops the current execution and cancels queued
// work, then waits for the queue to drain. Errors from the wait are
// swallowed: already-cancelled work failing is expected.
func (c *Coordinator) Interrupt(ctx context.Context, documentID string) error {
	b := c.lookup(documentID)
	if b == nil {
		return nil
	}

	b.queue.Cancel(false)

	if err := b.queue.WaitForCompletion(ctx, nil); err != nil {
		c.logger.DebugContext(ctx, "Drain after interrupt ended early", "document_id", documentID, "error", err)
	}

	c.publish(events.SessionInterrupted{
		BaseEvent: events.NewBase(events.SessionInterruptedEvent, documentID),
		SessionID: settledSessionID(b.future),
	})

	return nil
}

// Restart discards the document's session and rebinds its queue to a brand
// new one. The new session is requested first; regardless of the outcome the
// old queue is cancelled forcefully and drained, then replaced.
func (c *Coordinator) Restart(ctx context.Context, documentID string) error {
	newFuture := kernel.ConnectFuture(c.ctx, c.provider)

	c.mu.Lock()
	old := c.docs[documentID]
	c.mu.Unlock()

	var oldSessionID string

	if old != nil {
		oldSessionID = settledSessionID(old.future)

		old.queue.Cancel(true)

		if err := old.queue.WaitForCompletion(ctx, nil); err != nil {
			c.logger.DebugContext(ctx, "Drain after restart ended early", "document_id", documentID, "error", err)
		}

		old.pumpCancel()
		old.queue.Close()
	}

	c.mu.Lock()
	c.docs[documentID] = c.newBindingLocked(documentID, newFuture)
	c.mu.Unlock()

	// Surface connection failure to the caller but keep the binding: the
	// failed future cancels whatever gets enqueued with a session error.
	session, err := newFuture.Await(ctx)

	newSessionID := ""
	if err == nil {
		newSessionID = session.ID()
	} else {
		c.logger.WarnContext(ctx, "Restart could not obtain a new session", "document_id", documentID, "error", err)
	}

	c.publish(events.SessionRestarted{
		BaseEvent:    events.NewBase(events.SessionRestartedEvent, documentID),
		OldSessionID: oldSessionID,
		NewSessionID: newSessionID,
	})

	return err
}

// CancelAll force- or soft-cancels everything queued for the document
// without waiting. Used for hard teardown.
func (c *Coordinator) CancelAll(documentID string, forceful bool) {
	if b := c.lookup(documentID); b != nil {
		b.queue.Cancel(forceful)
	}
}

// Drain waits until the document's queue is empty. Resolves immediately when
// there is nothing queued.
func (c *Coordinator) Drain(ctx context.Context, documentID string) error {
	b := c.lookup(documentID)
	if b == nil {
		return nil
	}

	return b.queue.WaitForCompletion(ctx, nil)
}

// DocumentClosed releases everything owned for the document: pending work is
// cancelled forcefully and no further messages are forwarded for it.
func (c *Coordinator) DocumentClosed(ctx context.Context, documentID string) {
	c.mu.Lock()
	b := c.docs[documentID]
	delete(c.docs, documentID)

	for id, entry := range c.requests {
		if entry.documentID == documentID {
			delete(c.requests, id)
		}
	}
	c.mu.Unlock()

	if b == nil {
		return
	}

	if !b.queue.IsEmpty() || b.queue.Failed() {
		b.queue.Cancel(true)
	}

	b.pumpCancel()
	b.queue.Close()

	c.publish(events.DocumentClosed{
		BaseEvent: events.NewBase(events.DocumentClosedEvent, documentID),
	})
}

// PendingCells returns the requests awaiting or undergoing execution for the
// document, in admission order.
func (c *Coordinator) PendingCells(documentID string) []*execution.Request {
	b := c.lookup(documentID)
	if b == nil {
		return nil
	}

	return b.queue.Pending()
}

// Request looks up a request handle by id.
func (c *Coordinator) Request(requestID string) (*execution.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.requests[requestID]
	if !ok {
		return nil, false
	}

	return entry.req, true
}

// Close tears down every document binding.
func (c *Coordinator) Close() {
	c.mu.Lock()
	docs := make([]string, 0, len(c.docs))

	for id := range c.docs {
		docs = append(docs, id)
	}
	c.mu.Unlock()

	for _, id := range docs {
		c.DocumentClosed(context.Background(), id)
	}

	c.cancel()
}

func (c *Coordinator) enqueue(ctx context.Context, documentID, code, originID, cellID string) (*execution.Request, error) {
	c.mu.Lock()
	b := c.bindingForLocked(documentID)
	req, err := b.queue.Enqueue(code, originID)

	if err == nil {
		c.requests[req.ID] = &requestEntry{req: req, documentID: documentID}
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if c.store != nil {
		go c.recordPending(documentID, cellID, req)
	}

	return req, nil
}

// recordPending persists the execution once it has actually been
// transmitted and clears the record when it completes.
func (c *Coordinator) recordPending(documentID, cellID string, req *execution.Request) {
	select {
	case <-req.Sent():
	case <-req.Done():
		return
	}

	pending := &persistence.PendingExecution{
		DocumentID: documentID,
		CellID:     cellID,
		RequestID:  req.ID,
		Code:       req.Code,
		OriginID:   req.OriginID,
		StartedAt:  time.Now().UTC(),
	}

	if err := c.store.Save(c.ctx, pending); err != nil {
		c.logger.Warn("Failed to record pending execution", "request_id", req.ID, "error", err)

		return
	}

	c.clearPendingOnDone(documentID, req)
}

func (c *Coordinator) clearPendingOnDone(documentID string, req *execution.Request) {
	select {
	case <-req.Done():
	case <-c.ctx.Done():
		return
	}

	if err := c.store.Delete(c.ctx, documentID, req.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		c.logger.Warn("Failed to clear pending execution", "request_id", req.ID, "error", err)
	}
}

// bindingForLocked returns the document's binding, constructing a fresh one
// when none exists or the previous queue has failed. Requires c.mu.
func (c *Coordinator) bindingForLocked(documentID string) *binding {
	if b, ok := c.docs[documentID]; ok {
		if !b.queue.Failed() {
			return b
		}

		// A failed queue is never reused; tear it down and replace it.
		b.pumpCancel()
		go b.queue.Close()
	}

	b := c.newBindingLocked(documentID, kernel.ConnectFuture(c.ctx, c.provider))
	c.docs[documentID] = b

	return b
}

func (c *Coordinator) newBindingLocked(documentID string, future *kernel.Future) *binding {
	tracker := execution.NewTracker()
	queue := execution.NewQueue(documentID, future, tracker, c.logger, c.publisher)

	pumpCtx, pumpCancel := context.WithCancel(c.ctx)

	go func() {
		session, err := future.Await(pumpCtx)
		if err != nil {
			return
		}

		execution.PumpBroadcast(pumpCtx, session, tracker, c.logger)
	}()

	return &binding{
		queue:      queue,
		future:     future,
		tracker:    tracker,
		pumpCancel: pumpCancel,
	}
}

func (c *Coordinator) lookup(documentID string) *binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docs[documentID]
}

func (c *Coordinator) publish(event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(c.ctx, string(event.GetType()), event); err != nil {
		c.logger.Warn("Failed to publish lifecycle event", "event_type", string(event.GetType()), "error", err)
	}
}

// settledSessionID returns the session id if the future already resolved.
func settledSessionID(f *kernel.Future) string {
	select {
	case <-f.Done():
	default:
		return ""
	}

	session, err := f.Await(context.Background())
	if err != nil || session == nil {
		return ""
	}

	return session.ID()
}
