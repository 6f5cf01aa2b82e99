package service

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu                  sync.Mutex
	predictions         map[string]int
	failures            int
	invalid             int
	fallbackUse         int
	explanationFailures int
	latencies           []float64
	probabilities       []float64
	cacheHits           int
	cacheMisses         int
	reloads             int
}

func newMockMetrics() *MockMetrics {
	return &MockMetrics{predictions: make(map[string]int)}
}

func (m *MockMetrics) PredictionsInc(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[model]++
}

func (m *MockMetrics) PredictionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) InvalidRequestsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalid++
}

func (m *MockMetrics) FallbackUseInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackUse++
}

func (m *MockMetrics) ExplanationFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explanationFailures++
}

func (m *MockMetrics) LatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, v)
}

func (m *MockMetrics) ProbabilityObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probabilities = append(m.probabilities, v)
}

func (m *MockMetrics) CacheHitInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *MockMetrics) CacheMissInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMisses++
}

func (m *MockMetrics) ModelReloadsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}
