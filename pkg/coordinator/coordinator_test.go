package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/notekit/kernelq/pkg/execution"
	"github.com/notekit/kernelq/pkg/persistence"
	"github.com/notekit/kernelq/pkg/persistence/file"
	"github.com/notekit/kernelq/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func waitDone(t *testing.T, req *execution.Request) execution.Result {
	t.Helper()

	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request did not reach a terminal state")
	}

	res, done := req.Result()
	require.True(t, done)

	return res
}

func TestCoordinator_ExecuteCellRejectsNonCode(t *testing.T) {
	coord := NewCoordinator(testutil.NewFakeProvider(testutil.NewFakeSession("sess-1")), nil, nil, testLogger())
	defer coord.Close()

	cell := Cell{ID: "cell-1", Kind: CellMarkup, Source: "# heading"}

	_, err := coord.ExecuteCell(context.Background(), "doc-1", cell, "")
	assert.ErrorIs(t, err, ErrNotCodeCell)
}

func TestCoordinator_ExecuteCellUsesOverride(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())

	defer coord.Close()

	cell := Cell{ID: "cell-1", Kind: CellCode, Language: "python", Source: "x = 1"}

	req, err := coord.ExecuteCell(context.Background(), "doc-1", cell, "x = 2")
	require.NoError(t, err)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateSucceeded, res.State)
	assert.Equal(t, []string{"x = 2"}, session.Executed())
}

func TestCoordinator_ExecuteCodeAndLookup(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	session.Script = testutil.EchoScript

	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())
	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "print(1)", "caller-1")
	require.NoError(t, err)

	found, ok := coord.Request(req.ID)
	require.True(t, ok)
	assert.Same(t, req, found)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateSucceeded, res.State)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, coord.Drain(ctx, "doc-1"))
}

func TestCoordinator_StreamCode(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	session.Script = testutil.EchoScript

	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())
	defer coord.Close()

	stream, req, err := coord.StreamCode(context.Background(), "doc-1", "print(1)", "")
	require.NoError(t, err)

	var channels []string
	for delta := range stream {
		channels = append(channels, delta.Channel)
	}

	assert.Equal(t, []string{"result"}, channels)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateSucceeded, res.State)
}

func TestCoordinator_StreamCodeCancelledBeforeTransmit(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	provider := testutil.NewFakeProvider(session)
	provider.Hold = true

	coord := NewCoordinator(provider, nil, nil, testLogger())
	defer coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream, req, err := coord.StreamCode(ctx, "doc-1", "x = 1", "")
	require.NoError(t, err)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateCancelled, res.State)

	select {
	case _, open := <-stream:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}

	// The session never saw the request.
	provider.ReleaseConnect()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, session.Executed())
}

func TestCoordinator_InterruptCancelsRunningWork(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	session.HoldReplies = true
	session.OnInterrupt = session.Release

	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())
	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "while True: pass", "")
	require.NoError(t, err)

	<-req.Sent()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, coord.Interrupt(ctx, "doc-1"))

	res := waitDone(t, req)
	assert.Equal(t, execution.StateCancelled, res.State)
	assert.Equal(t, 1, session.Interrupts())
}

func TestCoordinator_RestartRebindsToFreshSession(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	session.HoldReplies = true

	provider := testutil.NewFakeProvider(session)
	coord := NewCoordinator(provider, nil, nil, testLogger())

	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "while True: pass", "")
	require.NoError(t, err)

	<-req.Sent()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, coord.Restart(ctx, "doc-1"))

	res := waitDone(t, req)
	assert.Equal(t, execution.StateCancelled, res.State)
	assert.Equal(t, 2, provider.Connects())
}

func TestCoordinator_FailedQueueIsReplaced(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	provider := testutil.NewFakeProvider(session)
	provider.Err = errors.New("kernel spawn failed")

	coord := NewCoordinator(provider, nil, nil, testLogger())
	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "x = 1", "")
	require.NoError(t, err)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateCancelled, res.State)
	assert.True(t, execution.IsSessionUnavailable(res.Err))

	// The next submission gets a fresh queue bound to a fresh session
	// attempt; the failed queue is never reused.
	provider.Err = nil

	retry, err := coord.ExecuteCode(context.Background(), "doc-1", "x = 1", "")
	require.NoError(t, err)

	res = waitDone(t, retry)
	assert.Equal(t, execution.StateSucceeded, res.State)
	assert.GreaterOrEqual(t, provider.Connects(), 2)
}

func TestCoordinator_ResumeCell(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	store := file.NewRepository(t.TempDir())

	coord := NewCoordinator(testutil.NewFakeProvider(session), store, nil, testLogger())
	defer coord.Close()

	ctx := context.Background()

	pending := &persistence.PendingExecution{
		DocumentID: "doc-1",
		CellID:     "cell-1",
		RequestID:  "exec-resumed1",
		Code:       "print(1)",
		OriginID:   "cell-1",
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, pending))

	cell := Cell{ID: "cell-1", Kind: CellCode, Source: "print(1)"}

	req, err := coord.ResumeCell(ctx, "doc-1", cell)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "exec-resumed1", req.ID)
	assert.Equal(t, execution.StateStreaming, req.State())

	// The terminal reply for a resumed request arrives on the broadcast
	// channel and is routed by the pump.
	session.PushBroadcast(testutil.Stream(req.ID, "stdout", "hello"))
	session.PushBroadcast(testutil.Reply(req.ID, true))

	res := waitDone(t, req)
	assert.Equal(t, execution.StateSucceeded, res.State)

	outputs := req.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "hello", outputs[0].Text)

	assert.Eventually(t, func() bool {
		remaining, err := store.FindByDocument(ctx, "doc-1")

		return err == nil && len(remaining) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_ResumeCellWithoutRecord(t *testing.T) {
	store := file.NewRepository(t.TempDir())
	coord := NewCoordinator(testutil.NewFakeProvider(testutil.NewFakeSession("sess-1")), store, nil, testLogger())

	defer coord.Close()

	cell := Cell{ID: "cell-1", Kind: CellCode, Source: "x = 1"}

	req, err := coord.ResumeCell(context.Background(), "doc-1", cell)
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestCoordinator_PendingCells(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	provider := testutil.NewFakeProvider(session)
	provider.Hold = true

	coord := NewCoordinator(provider, nil, nil, testLogger())
	defer coord.Close()

	ctx := context.Background()

	first, err := coord.ExecuteCode(ctx, "doc-1", "a = 1", "")
	require.NoError(t, err)

	second, err := coord.ExecuteCode(ctx, "doc-1", "b = 2", "")
	require.NoError(t, err)

	pending := coord.PendingCells("doc-1")
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	assert.Empty(t, coord.PendingCells("doc-unknown"))
}

func TestCoordinator_DocumentClosed(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())

	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "x = 1", "")
	require.NoError(t, err)

	waitDone(t, req)

	coord.DocumentClosed(context.Background(), "doc-1")

	_, ok := coord.Request(req.ID)
	assert.False(t, ok)
	assert.Empty(t, coord.PendingCells("doc-1"))
}

func TestCoordinator_CancelAll(t *testing.T) {
	session := testutil.NewFakeSession("sess-1")
	session.HoldReplies = true

	coord := NewCoordinator(testutil.NewFakeProvider(session), nil, nil, testLogger())
	defer coord.Close()

	req, err := coord.ExecuteCode(context.Background(), "doc-1", "while True: pass", "")
	require.NoError(t, err)

	<-req.Sent()
	coord.CancelAll("doc-1", true)

	res := waitDone(t, req)
	assert.Equal(t, execution.StateCancelled, res.State)
}
