package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "dropiq-ml"})
	}))
	defer srv.Close()

	health, err := New(srv.URL, time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Health{Status: "ok", Service: "dropiq-ml"}, health)
}

func TestClient_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var req PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{1, 100, 5, 1, 10}, req.Features)
		assert.Equal(t, "cust-1", req.CustomerID)

		writeJSON(w, http.StatusOK, map[string]any{
			"probability":      0.83,
			"label":            1,
			"shap_explanation": map[string]any{"values": []float64{0.2, 0, 0.1, 0, 0.03}, "base_value": 0.5},
			"score_id":         "s-1",
			"high_risk":        true,
		})
	}))
	defer srv.Close()

	pred, err := New(srv.URL+"/", time.Second).Predict(context.Background(), PredictRequest{
		Features:   []float64{1, 100, 5, 1, 10},
		CustomerID: "cust-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.83, pred.Probability)
	assert.Equal(t, 1, pred.Label)
	require.NotNil(t, pred.Explanation)
	assert.Len(t, pred.Explanation.Values, 5)
	assert.Equal(t, 0.5, pred.Explanation.BaseValue)
	assert.Equal(t, "s-1", pred.ScoreID)
	assert.True(t, pred.HighRisk)
}

func TestClient_PredictNullExplanation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probability":0.7,"label":1,"shap_explanation":null}`))
	}))
	defer srv.Close()

	pred, err := New(srv.URL, time.Second).Predict(context.Background(), PredictRequest{Features: []float64{1, 2, 3, 4, 5}})
	require.NoError(t, err)
	assert.Equal(t, 0.7, pred.Probability)
	assert.Nil(t, pred.Explanation)
}

func TestClient_ClientErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected 5 features, got 4"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(context.Background(), PredictRequest{Features: []float64{1, 2, 3, 4}})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "expected 5 features, got 4", apiErr.Message)
	assert.True(t, apiErr.ClientError())
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).ModelInfo(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.False(t, apiErr.ClientError())
}

func TestClient_Scores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/acme co/scores", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "a", "customer_id": "acme co", "probability": 0.9, "label": 1},
			{"id": "b", "customer_id": "acme co", "probability": 0.2, "label": 0},
		})
	}))
	defer srv.Close()

	scores, err := New(srv.URL, time.Second).Scores(context.Background(), "acme co", 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "a", scores[0].ID)
	assert.Equal(t, 0.2, scores[1].Probability)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, 20*time.Millisecond).Health(context.Background())
	assert.Error(t, err)
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, time.Second).Health(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
