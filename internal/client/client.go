// Package client is a small HTTP client for the DropIQ prediction server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropiq-ml: %d %s", e.StatusCode, e.Message)
}

// ClientError reports whether the server rejected the request input.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Health is the liveness response.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Features   []float64 `json:"features"`
	CustomerID string    `json:"customer_id,omitempty"`
}

// Explanation is the per-feature attribution of a prediction.
type Explanation struct {
	Values    []float64 `json:"values"`
	BaseValue float64   `json:"base_value"`
}

// Prediction is the response of POST /predict.
type Prediction struct {
	Probability float64      `json:"probability"`
	Label       int          `json:"label"`
	Explanation *Explanation `json:"shap_explanation"`
	ScoreID     string       `json:"score_id,omitempty"`
	HighRisk    bool         `json:"high_risk,omitempty"`
}

// ModelInfo is the response of GET /model/info.
type ModelInfo struct {
	Kind     string    `json:"kind"`
	Version  string    `json:"version"`
	Fallback bool      `json:"fallback"`
	LoadedAt time.Time `json:"loaded_at"`
	Features []string  `json:"features"`
	Report   string    `json:"report,omitempty"`
}

// Score is one stored churn score.
type Score struct {
	ID           string       `json:"id"`
	CustomerID   string       `json:"customer_id"`
	Features     []float64    `json:"features"`
	Probability  float64      `json:"probability"`
	Label        int          `json:"label"`
	Explanation  *Explanation `json:"explanation,omitempty"`
	ModelKind    string       `json:"model_kind"`
	ModelVersion string       `json:"model_version"`
	CreatedAt    time.Time    `json:"created_at"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	base string
	rest *resty.Client
}

// New creates a client for the server at base (e.g. http://localhost:8000).
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	out := &Health{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict calls POST /predict.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	out := &Prediction{}
	if err := c.do(ctx, http.MethodPost, "/predict", req, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelInfo calls GET /model/info.
func (c *Client) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	out := &ModelInfo{}
	if err := c.do(ctx, http.MethodGet, "/model/info", nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Scores calls GET /customers/{id}/scores.
func (c *Client) Scores(ctx context.Context, customerID string, limit int) ([]Score, error) {
	var out []Score
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	path := "/customers/" + url.PathEscape(customerID) + "/scores"
	if err := c.do(ctx, http.MethodGet, path, nil, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, params map[string]string, result any) error {
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}
