package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dropiq-ml/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeatures(t *testing.T) {
	features, err := parseFeatures("1, 100,5,1,-10")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 100, 5, 1, -10}, features)

	features, err = parseFeatures("1,2,3,4,")
	require.NoError(t, err)
	assert.Len(t, features, 4)

	_, err = parseFeatures("1,two,3")
	assert.Error(t, err)
}

func TestRun_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cust-7", req.CustomerID)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probability":0.7,"label":1,"shap_explanation":null,"score_id":"s","high_risk":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	a := args{Predict: &predictCmd{Features: "1,100,5,1,10", Customer: "cust-7"}}
	require.NoError(t, run(context.Background(), client.New(srv.URL, time.Second), a, &out))

	var pred client.Prediction
	require.NoError(t, json.Unmarshal(out.Bytes(), &pred))
	assert.Equal(t, 0.7, pred.Probability)
	assert.True(t, pred.HighRisk)
}

func TestRun_ClientErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"expected 5 features, got 4"}`))
	}))
	defer srv.Close()

	a := args{Predict: &predictCmd{Features: "1,100,5,1"}}
	err := run(context.Background(), client.New(srv.URL, time.Second), a, &bytes.Buffer{})

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.ClientError())
}

func TestRun_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"dropiq-ml"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), client.New(srv.URL, time.Second), args{Health: &struct{}{}}, &out))
	assert.JSONEq(t, `{"status":"ok","service":"dropiq-ml"}`, out.String())
}

func TestRun_MissingSubcommand(t *testing.T) {
	err := run(context.Background(), client.New("http://127.0.0.1:1", time.Second), args{}, &bytes.Buffer{})
	assert.Error(t, err)
}
