package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindlabs/rewind/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifySlackPayload(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New([]config.NotifierConfig{
		{Type: "slack", URL: config.ValueSource{Value: server.URL}},
	}, testLogger())

	err := n.Notify(context.Background(), Event{
		Type:    EventRuleFired,
		Title:   "Rule fired: api-error-rate",
		Message: "3 consecutive failures on api-http",
	})
	require.NoError(t, err)
	assert.Equal(t, "*Rule fired: api-error-rate*\n3 consecutive failures on api-http", received["text"])
}

func TestNotifyWebhookPayload(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New([]config.NotifierConfig{
		{Type: "webhook", URL: config.ValueSource{Value: server.URL}},
	}, testLogger())

	sent := Event{
		Type:         EventExecutionCompleted,
		DeploymentID: "deploy-42",
		ExecutionID:  "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Title:        "Rollback completed",
		Severity:     "info",
		Time:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.Notify(context.Background(), sent))
	assert.Equal(t, sent, received)
}

func TestNotifyFiltersEvents(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New([]config.NotifierConfig{
		{Type: "webhook", URL: config.ValueSource{Value: server.URL}, Events: []string{EventExecutionFailed}},
	}, testLogger())

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventExecutionCompleted, Title: "done"}))
	assert.Equal(t, 0, calls, "unsubscribed event should not be delivered")

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventExecutionFailed, Title: "failed"}))
	assert.Equal(t, 1, calls)
}

func TestNotifyReportsEndpointErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such channel", http.StatusNotFound)
	}))
	defer server.Close()

	n := New([]config.NotifierConfig{
		{Type: "slack", URL: config.ValueSource{Value: server.URL}},
	}, testLogger())

	err := n.Notify(context.Background(), Event{Type: EventAlert, Title: "cpu high"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestNewSkipsUnresolvedTargets(t *testing.T) {
	n := New([]config.NotifierConfig{
		{Type: "slack", URL: config.ValueSource{}},
	}, testLogger())
	assert.Empty(t, n.targets)
}
