package cmd

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBus_GoChannel(t *testing.T) {
	bus, err := NewEventBus("gochannel", slog.Default())
	require.NoError(t, err)
	require.NotNil(t, bus)

	assert.NoError(t, bus.Close())
}

func TestNewEventBus_None(t *testing.T) {
	bus, err := NewEventBus("none", slog.Default())
	require.NoError(t, err)
	assert.Nil(t, bus)
}

func TestNewEventBus_Unsupported(t *testing.T) {
	_, err := NewEventBus("carrier-pigeon", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported event bus provider")
}

func TestNewResumeStore_Disabled(t *testing.T) {
	store, err := NewResumeStore("", slog.Default())
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNewResumeStore_File(t *testing.T) {
	store, err := NewResumeStore("file://"+t.TempDir(), slog.Default())
	require.NoError(t, err)
	require.NotNil(t, store)

	assert.NoError(t, store.HealthCheck(t.Context()))
}

func TestNewResumeStore_Unsupported(t *testing.T) {
	_, err := NewResumeStore("postgres://localhost/kernelq", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported persistence url")
}
