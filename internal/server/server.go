// Package server exposes the prediction service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dropiq-ml/internal/alerts"
	"dropiq-ml/internal/service"
	"dropiq-ml/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultListLimit      = 50
	maxListLimit          = 1000
	maxBodyBytes          = 1 << 16
)

// Predictor is the prediction path. *service.Service satisfies it.
type Predictor interface {
	Health() service.HealthStatus
	Predict(ctx context.Context, features []float64) (*service.PredictionResult, error)
	ModelInfo() (*service.ModelInfo, error)
}

// History is the read side of the score store. *storage.Store satisfies it.
type History interface {
	Scores(customerID string, limit int) ([]storage.ScoreRecord, error)
	Customers() ([]string, error)
	Notifications(limit int) ([]storage.Notification, error)
}

// Options wires the optional collaborators. Nil fields disable the routes or
// side effects that depend on them.
type Options struct {
	Port           int
	RequestTimeout time.Duration
	Dispatcher     *alerts.Dispatcher
	History        History
	Alerts         http.Handler
	Gatherer       prometheus.Gatherer
}

// PredictionRequest is the body of POST /predict.
type PredictionRequest struct {
	Features   []float64 `json:"features"`
	CustomerID string    `json:"customer_id,omitempty"`
}

// PredictionResponse is the body returned by POST /predict.
type PredictionResponse struct {
	*service.PredictionResult
	ScoreID  string `json:"score_id,omitempty"`
	HighRisk bool   `json:"high_risk,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server provides the HTTP API for churn predictions.
type Server struct {
	predictor Predictor
	opts      Options
	router    *mux.Router
	server    *http.Server
}

// New creates the HTTP server around predictor.
func New(predictor Predictor, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{predictor: predictor, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	r.HandleFunc("/model/info", s.handleModelInfo).Methods("GET")
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if opts.Alerts != nil {
		r.Handle("/ws/alerts", opts.Alerts).Methods("GET")
	}
	if opts.History != nil {
		r.HandleFunc("/customers", s.handleCustomers).Methods("GET")
		r.HandleFunc("/customers/{id}/scores", s.handleScores).Methods("GET")
		r.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	}
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.predictor.Health())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	result, err := s.predictor.Predict(ctx, req.Features)
	if err != nil {
		if errors.Is(err, service.ErrClientInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Prediction failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("prediction failed: %v", err))
		return
	}

	resp := PredictionResponse{PredictionResult: result}
	if req.CustomerID != "" && s.opts.Dispatcher != nil {
		resp.HighRisk = s.opts.Dispatcher.IsHighRisk(result.Probability)
		record, err := s.opts.Dispatcher.Dispatch(req.CustomerID, req.Features, result)
		if err != nil {
			// The score itself is still valid; history is best effort.
			log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("Failed to record prediction")
		}
		resp.ScoreID = record.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.predictor.ModelInfo()
	if err != nil {
		log.Error().Err(err).Msg("Model info failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.opts.History.Customers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if customers == nil {
		customers = []string{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scores, err := s.opts.History.Scores(mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scores == nil {
		scores = []storage.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	notifications, err := s.opts.History.Notifications(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notifications == nil {
		notifications = []storage.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
