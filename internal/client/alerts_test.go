package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dropiq-ml/internal/alerts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AlertsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws/alerts", New("http://localhost:8000/", 0).Alerts().url)
	assert.Equal(t, "wss://ml.example.com/ws/alerts", New("https://ml.example.com", 0).Alerts().url)
}

func TestAlertStream_ReceivesBroadcasts(t *testing.T) {
	hub := alerts.NewHub(nil)
	defer hub.Close()
	mux := http.NewServeMux()
	mux.Handle("/ws/alerts", hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Alert, 1)
	done := make(chan error, 1)
	go func() { done <- New(srv.URL, time.Second).Alerts().Stream(ctx, received) }()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(alerts.Event{Type: alerts.EventHighRiskCustomer, CustomerID: "cust-5", Probability: 0.88, Label: 1})

	select {
	case a := <-received:
		assert.Equal(t, alerts.EventHighRiskCustomer, a.Type)
		assert.Equal(t, "cust-5", a.CustomerID)
		assert.Equal(t, 0.88, a.Probability)
		assert.Equal(t, 1, a.Label)
		assert.False(t, a.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("alert not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestAlertStream_StopsWhileReconnecting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Nothing listens here, so every dial fails.
	err := New("http://127.0.0.1:1", time.Second).Alerts().Stream(ctx, make(chan Alert))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
