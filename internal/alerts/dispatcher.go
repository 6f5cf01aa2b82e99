package alerts

import (
	"fmt"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/service"
	"dropiq-ml/internal/storage"

	"github.com/rs/zerolog/log"
)

// History is the subset of the score store the dispatcher writes to.
type History interface {
	RecordScore(storage.ScoreRecord) (storage.ScoreRecord, error)
	AddNotification(storage.Notification) (storage.Notification, error)
}

// Broadcaster pushes events to live subscribers. *Hub satisfies it.
type Broadcaster interface {
	Broadcast(Event)
}

// MetricsInterface defines the metrics methods needed by the dispatcher
type MetricsInterface interface {
	HighRiskInc()
	ScoresRecordedInc()
	StorageFailuresInc()
}

// Dispatcher handles the side effects of a prediction made for an identified
// customer: the score is persisted and, when the probability reaches the
// threshold, a notification is stored and broadcast. Either collaborator may
// be nil.
type Dispatcher struct {
	history   History
	hub       Broadcaster
	threshold float64
	metrics   MetricsInterface
}

// NewDispatcher creates a dispatcher. A threshold <= 0 selects the default.
func NewDispatcher(history History, hub Broadcaster, threshold float64, metrics MetricsInterface) *Dispatcher {
	if threshold <= 0 {
		threshold = common.DefaultHighRiskProb
	}
	return &Dispatcher{history: history, hub: hub, threshold: threshold, metrics: metrics}
}

// Threshold returns the high-risk probability cut-off.
func (d *Dispatcher) Threshold() float64 { return d.threshold }

// IsHighRisk reports whether p reaches the alert threshold.
func (d *Dispatcher) IsHighRisk(p float64) bool {
	return p >= d.threshold
}

// Dispatch records result for customerID and raises an alert if needed. The
// returned record is the zero value when no history store is configured.
func (d *Dispatcher) Dispatch(customerID string, features []float64, result *service.PredictionResult) (storage.ScoreRecord, error) {
	var record storage.ScoreRecord
	if d.history != nil {
		stored, err := d.history.RecordScore(scoreRecord(customerID, features, result))
		if err != nil {
			d.metrics.StorageFailuresInc()
			return storage.ScoreRecord{}, fmt.Errorf("record score: %w", err)
		}
		d.metrics.ScoresRecordedInc()
		record = stored
	}

	if !d.IsHighRisk(result.Probability) {
		return record, nil
	}
	d.metrics.HighRiskInc()

	if d.history != nil {
		_, err := d.history.AddNotification(storage.Notification{
			Type:        storage.NotificationHighRiskCustomer,
			CustomerID:  customerID,
			Probability: result.Probability,
			Message:     fmt.Sprintf("Customer %s is high risk with probability %.2f", customerID, result.Probability),
		})
		if err != nil {
			d.metrics.StorageFailuresInc()
			return record, fmt.Errorf("add notification: %w", err)
		}
	}

	if d.hub != nil {
		d.hub.Broadcast(Event{
			Type:        EventHighRiskCustomer,
			CustomerID:  customerID,
			Probability: result.Probability,
			Label:       result.Label,
		})
	}

	log.Info().
		Str("customer_id", customerID).
		Float64("probability", result.Probability).
		Msg("High risk customer detected")

	return record, nil
}

func scoreRecord(customerID string, features []float64, result *service.PredictionResult) storage.ScoreRecord {
	record := storage.ScoreRecord{
		CustomerID:   customerID,
		Features:     append([]float64(nil), features...),
		Probability:  result.Probability,
		Label:        result.Label,
		ModelKind:    string(result.ModelKind),
		ModelVersion: result.ModelVersion,
	}
	if result.Explanation != nil {
		record.Explanation = &storage.Explanation{
			Values:    append([]float64(nil), result.Explanation.Values...),
			BaseValue: result.Explanation.BaseValue,
		}
	}
	return record
}
