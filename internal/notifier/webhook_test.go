package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/broadcast"
)

func TestWebhookNotifier_PostsCriticalEvents(t *testing.T) {
	var received atomic.Int32
	var lastBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody = body
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	err := n.Notify(context.Background(), broadcast.CriticalScope, "critical_alert", map[string]string{"device_id": "dev-001"})
	require.NoError(t, err)
	require.Equal(t, int32(1), received.Load())

	var envelope broadcast.Envelope
	require.NoError(t, json.Unmarshal(lastBody, &envelope))
	assert.Equal(t, "critical", envelope.Scope)
	assert.Equal(t, "critical_alert", envelope.Event)
}

func TestWebhookNotifier_IgnoresNonCriticalScopes(t *testing.T) {
	var received atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), broadcast.DeviceScope("dev-001"), "device_status", nil))
	require.NoError(t, n.Notify(context.Background(), broadcast.PatientScope("patient-1"), "telemetry_reading", nil))

	assert.Equal(t, int32(0), received.Load())
}

func TestWebhookNotifier_ReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	err := n.Notify(context.Background(), broadcast.CriticalScope, "critical_alert", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
