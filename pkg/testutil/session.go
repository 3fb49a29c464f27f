// Package testutil provides scripted kernel fakes for exercising the
// execution layer without a real transport.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/notekit/kernelq/pkg/kernel"
)

// ReplyScript produces the reply messages for one execute request.
type ReplyScript func(req kernel.ExecuteRequest) []kernel.Message

// FakeSession is a scriptable in-memory session. By default every request
// succeeds with an acknowledgement and a terminal reply after ReplyDelay.
type FakeSession struct {
	// ReplyDelay is applied before the scripted replies are delivered.
	ReplyDelay time.Duration
	// Script overrides the default success replies.
	Script ReplyScript
	// OnInterrupt runs whenever Interrupt is called, letting tests inject
	// the remote's reaction (for example an aborted terminal reply).
	OnInterrupt func()
	// HoldReplies, when set, delays replies until Release is called.
	HoldReplies bool

	id        string
	broadcast chan kernel.Message
	disposed  chan struct{}
	release   chan struct{}

	mu         sync.Mutex
	err        error
	executed   []string
	interrupts int
	open       []chan kernel.Message
}

func NewFakeSession(id string) *FakeSession {
	return &FakeSession{
		id:        id,
		broadcast: make(chan kernel.Message, 64),
		disposed:  make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *FakeSession) ID() string {
	return s.id
}

func (s *FakeSession) Execute(_ context.Context, req kernel.ExecuteRequest) (<-chan kernel.Message, error) {
	replies := make(chan kernel.Message, 32)

	s.mu.Lock()
	s.executed = append(s.executed, req.Code)
	s.open = append(s.open, replies)
	script := s.Script
	s.mu.Unlock()

	if script == nil {
		script = SuccessScript
	}

	go func() {
		defer close(replies)

		if s.HoldReplies {
			select {
			case <-s.release:
			case <-s.disposed:
				return
			}
		}

		if s.ReplyDelay > 0 {
			select {
			case <-time.After(s.ReplyDelay):
			case <-s.disposed:
				return
			}
		}

		for _, msg := range script(req) {
			select {
			case replies <- msg:
			case <-s.disposed:
				return
			}
		}
	}()

	return replies, nil
}

func (s *FakeSession) Broadcast() <-chan kernel.Message {
	return s.broadcast
}

// PushBroadcast delivers an unsolicited message on the broadcast channel.
func (s *FakeSession) PushBroadcast(msg kernel.Message) {
	s.broadcast <- msg
}

func (s *FakeSession) Interrupt(_ context.Context) error {
	s.mu.Lock()
	s.interrupts++
	hook := s.OnInterrupt
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	return nil
}

func (s *FakeSession) Disposed() <-chan struct{} {
	return s.disposed
}

func (s *FakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Dispose tears the session down with the given cause.
func (s *FakeSession) Dispose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.disposed:
		return
	default:
	}

	s.err = err
	close(s.disposed)
}

// Release lets held replies flow. Only meaningful with HoldReplies.
func (s *FakeSession) Release() {
	close(s.release)
}

// Executed returns the codes transmitted so far, in order.
func (s *FakeSession) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.executed))
	copy(out, s.executed)

	return out
}

// Interrupts returns how many times Interrupt was called.
func (s *FakeSession) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interrupts
}

// SuccessScript acknowledges and succeeds with no output.
func SuccessScript(req kernel.ExecuteRequest) []kernel.Message {
	return []kernel.Message{
		Ack(req.RequestID),
		Reply(req.RequestID, true),
	}
}

// EchoScript acknowledges and echoes the code back as the result.
func EchoScript(req kernel.ExecuteRequest) []kernel.Message {
	return []kernel.Message{
		Ack(req.RequestID),
		Result(req.RequestID, map[string]any{"text/plain": req.Code}),
		Reply(req.RequestID, true),
	}
}

func Ack(requestID string) kernel.Message {
	return kernel.Message{Kind: kernel.KindExecuteInput, RequestID: requestID}
}

func Stream(requestID, stream, text string) kernel.Message {
	return kernel.Message{Kind: kernel.KindStream, RequestID: requestID, Stream: stream, Text: text}
}

func Result(requestID string, data map[string]any) kernel.Message {
	return kernel.Message{Kind: kernel.KindExecuteResult, RequestID: requestID, Data: data}
}

func ErrorMsg(requestID, name, value string) kernel.Message {
	return kernel.Message{Kind: kernel.KindError, RequestID: requestID, ErrName: name, ErrValue: value}
}

func Reply(requestID string, success bool) kernel.Message {
	return kernel.Message{Kind: kernel.KindExecuteReply, RequestID: requestID, Success: success}
}

// FakeProvider hands out sessions, optionally failing or blocking until
// released.
type FakeProvider struct {
	Session kernel.Session
	Err     error
	// Hold, when set, blocks Connect until ReleaseConnect is called.
	Hold bool

	mu       sync.Mutex
	connects int
	gate     chan struct{}
	gateOnce sync.Once
}

func NewFakeProvider(session kernel.Session) *FakeProvider {
	return &FakeProvider{Session: session, gate: make(chan struct{})}
}

func (p *FakeProvider) Connect(ctx context.Context) (kernel.Session, error) {
	p.mu.Lock()
	p.connects++
	p.mu.Unlock()

	if p.Hold {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.Err != nil {
		return nil, p.Err
	}

	return p.Session, nil
}

// ReleaseConnect unblocks held Connect calls.
func (p *FakeProvider) ReleaseConnect() {
	p.gateOnce.Do(func() { close(p.gate) })
}

// Connects reports how many times Connect was called.
func (p *FakeProvider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connects
}
