package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	id string
}

func (s *stubSession) ID() string { return s.id }

func (s *stubSession) Execute(_ context.Context, _ ExecuteRequest) (<-chan Message, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSession) Broadcast() <-chan Message { return nil }

func (s *stubSession) Interrupt(_ context.Context) error { return nil }

func (s *stubSession) Disposed() <-chan struct{} { return nil }

func (s *stubSession) Err() error { return nil }

type stubProvider struct {
	session Session
	err     error
}

func (p *stubProvider) Connect(_ context.Context) (Session, error) {
	return p.session, p.err
}

func TestFuture_ResolveOnce(t *testing.T) {
	future := NewFuture()
	first := &stubSession{id: "sess-1"}

	future.Resolve(first)
	future.Resolve(&stubSession{id: "sess-2"})
	future.Reject(errors.New("too late"))

	session, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, session)
}

func TestFuture_Reject(t *testing.T) {
	future := NewFuture()
	cause := errors.New("kernel spawn failed")

	future.Reject(cause)

	session, err := future.Await(context.Background())
	assert.Nil(t, session)
	assert.ErrorIs(t, err, cause)

	select {
	case <-future.Done():
	default:
		t.Fatal("done signal did not fire")
	}
}

func TestFuture_AwaitHonoursContext(t *testing.T) {
	future := NewFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := future.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolvedFuture(t *testing.T) {
	session := &stubSession{id: "sess-1"}

	got, err := ResolvedFuture(session).Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, session, got)
}

func TestFailedFuture(t *testing.T) {
	cause := errors.New("boom")

	_, err := FailedFuture(cause).Await(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestConnectFuture(t *testing.T) {
	session := &stubSession{id: "sess-1"}
	future := ConnectFuture(context.Background(), &stubProvider{session: session})

	got, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, session, got)
}

func TestConnectFuture_ProviderFailure(t *testing.T) {
	cause := errors.New("kernel spawn failed")
	future := ConnectFuture(context.Background(), &stubProvider{err: cause})

	_, err := future.Await(context.Background())
	assert.ErrorIs(t, err, cause)
}
