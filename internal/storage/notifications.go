package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// NotificationHighRiskCustomer is the type of notifications raised for
// customers scored at or above the alert threshold.
const NotificationHighRiskCustomer = "high_risk_customer"

// Notification is a persisted alert.
type Notification struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CustomerID  string    `json:"customer_id"`
	Probability float64   `json:"probability"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddNotification stores n, filling in a missing ID or timestamp.
func (s *Store) AddNotification(n Notification) (Notification, error) {
	if n.Type == "" {
		return Notification{}, fmt.Errorf("%w: notification without type", ErrInvalidRecord)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(notificationsBucket))

		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		return b.Put(timeKey(n.CreatedAt, n.ID), data)
	})
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Notifications returns the most recent notifications, newest first. A
// limit <= 0 returns all of them.
func (s *Store) Notifications(limit int) ([]Notification, error) {
	var out []Notification

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(notificationsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var n Notification
			if err := json.Unmarshal(v, &n); err != nil {
				continue
			}
			out = append(out, n)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})

	return out, err
}
