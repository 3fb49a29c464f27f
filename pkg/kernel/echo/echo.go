// Package echo provides an in-process loopback kernel for local development.
// It accepts every execution and echoes the submitted code back as its
// result, so the queueing layer can be exercised without a real transport.
package echo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notekit/kernelq/pkg/kernel"
)

type Session struct {
	id        string
	delay     time.Duration
	broadcast chan kernel.Message

	mu       sync.Mutex
	disposed chan struct{}
	err      error
}

type Provider struct {
	// Delay is applied between acknowledgement and the terminal reply,
	// simulating remote computation time.
	Delay time.Duration
}

func (p *Provider) Connect(_ context.Context) (kernel.Session, error) {
	return NewSession(p.Delay), nil
}

func NewSession(delay time.Duration) *Session {
	return &Session{
		id:        "echo-" + uuid.New().String()[:8],
		delay:     delay,
		broadcast: make(chan kernel.Message),
		disposed:  make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Execute(_ context.Context, req kernel.ExecuteRequest) (<-chan kernel.Message, error) {
	replies := make(chan kernel.Message, 4)

	go func() {
		defer close(replies)

		replies <- kernel.Message{Kind: kernel.KindExecuteInput, RequestID: req.RequestID}

		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-s.disposed:
				return
			}
		}

		replies <- kernel.Message{
			Kind:      kernel.KindExecuteResult,
			RequestID: req.RequestID,
			Data:      map[string]any{"text/plain": req.Code},
		}
		replies <- kernel.Message{Kind: kernel.KindExecuteReply, RequestID: req.RequestID, Success: true}
	}()

	return replies, nil
}

func (s *Session) Broadcast() <-chan kernel.Message {
	return s.broadcast
}

func (s *Session) Interrupt(_ context.Context) error {
	return nil
}

func (s *Session) Disposed() <-chan struct{} {
	return s.disposed
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Dispose tears the session down with the given cause.
func (s *Session) Dispose(err error) {
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
