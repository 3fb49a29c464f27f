package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notekit/kernelq/pkg/coordinator"
	"github.com/notekit/kernelq/pkg/kernel/echo"
)

func setupTestAPI(t *testing.T) (*fiber.App, *coordinator.Coordinator) {
	t.Helper()

	coord := coordinator.NewCoordinator(&echo.Provider{}, nil, nil, slog.Default())
	t.Cleanup(coord.Close)

	api := NewAPI(slog.Default(), coord, nil)

	return api.App(), coord
}

func closeBody(t *testing.T, resp *http.Response) {
	t.Helper()

	if err := resp.Body.Close(); err != nil {
		t.Logf("Failed to close response body: %v", err)
	}
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "kernelq API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_EnqueueExecution(t *testing.T) {
	app, coord := setupTestAPI(t)

	body := strings.NewReader(`{"code": "print(1)", "origin_id": "cell-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/documents/doc-1/executions", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload executionResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.NotEmpty(t, payload.RequestID)
	assert.Equal(t, "doc-1", payload.DocumentID)
	assert.Equal(t, "cell-1", payload.OriginID)

	handle, ok := coord.Request(payload.RequestID)
	require.True(t, ok)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not complete")
	}
}

func TestAPI_EnqueueExecution_MissingCode(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/documents/doc-1/executions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetExecution(t *testing.T) {
	app, coord := setupTestAPI(t)

	handle, err := coord.ExecuteCode(t.Context(), "doc-1", "print(1)", "cell-1")
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not complete")
	}

	req := httptest.NewRequest(http.MethodGet, "/executions/"+handle.ID+"/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload executionResponse

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, handle.ID, payload.RequestID)
	assert.Equal(t, "succeeded", payload.State)
}

func TestAPI_GetExecution_NotFound(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/executions/exec-missing/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetOutputs(t *testing.T) {
	app, coord := setupTestAPI(t)

	handle, err := coord.ExecuteCode(t.Context(), "doc-1", "print(1)", "")
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not complete")
	}

	req := httptest.NewRequest(http.MethodGet, "/executions/"+handle.ID+"/outputs", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		RequestID string           `json:"request_id"`
		State     string           `json:"state"`
		Outputs   []map[string]any `json:"outputs"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, handle.ID, payload.RequestID)
	assert.Len(t, payload.Outputs, 1)
}

func TestAPI_GetPending_Empty(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-1/pending", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Pending []executionResponse `json:"pending"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Empty(t, payload.Pending)
}

func TestAPI_InterruptAndCancel(t *testing.T) {
	app, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/documents/doc-1/interrupt", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancelReq := httptest.NewRequest(http.MethodPost, "/documents/doc-1/cancel", strings.NewReader(`{"forceful": true}`))
	cancelReq.Header.Set("Content-Type", "application/json")

	cancelResp, err := app.Test(cancelReq)
	require.NoError(t, err)

	defer closeBody(t, cancelResp)

	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
}

func TestAPI_CloseDocument(t *testing.T) {
	app, coord := setupTestAPI(t)

	handle, err := coord.ExecuteCode(t.Context(), "doc-1", "x = 1", "")
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not complete")
	}

	req := httptest.NewRequest(http.MethodDelete, "/documents/doc-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer closeBody(t, resp)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := coord.Request(handle.ID)
	assert.False(t, ok)
}
