// Package storage provides persistent score history for the DropIQ churn
// service. It uses BoltDB as the underlying storage engine to keep every
// churn score computed for an identified customer together with the
// high-risk notifications raised from them.
//
// Scores live in one nested bucket per customer, keyed by a zero-padded
// timestamp so cursor order is chronological order.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	scoresBucket        = "scores"        // Parent bucket of the per-customer score buckets
	notificationsBucket = "notifications" // Bucket of high-risk notifications

	dbFile = "dropiq-ml.db"
)

// ErrInvalidRecord is returned for records that cannot be stored.
var ErrInvalidRecord = errors.New("invalid record")

// Explanation mirrors the attribution attached to a stored score.
type Explanation struct {
	Values    []float64 `json:"values"`
	BaseValue float64   `json:"base_value"`
}

// ScoreRecord is one churn score computed for a customer.
type ScoreRecord struct {
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

// Store provides persistent storage for churn scores using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the database under dataPath and ensures the
// buckets exist.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(scoresBucket)); err != nil {
			return fmt.Errorf("create scores bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(notificationsBucket)); err != nil {
			return fmt.Errorf("create notifications bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordScore stores a score for record.CustomerID. A missing ID or
// timestamp is filled in; the stored record is returned.
func (s *Store) RecordScore(record ScoreRecord) (ScoreRecord, error) {
	if record.CustomerID == "" {
		return ScoreRecord{}, fmt.Errorf("%w: score without customer id", ErrInvalidRecord)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(scoresBucket)).CreateBucketIfNotExists([]byte(record.CustomerID))
		if err != nil {
			return fmt.Errorf("create customer bucket: %w", err)
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal score: %w", err)
		}
		return b.Put(timeKey(record.CreatedAt, record.ID), data)
	})
	if err != nil {
		return ScoreRecord{}, err
	}
	return record, nil
}

// Scores returns the most recent scores of a customer, newest first. A
// limit <= 0 returns all of them.
func (s *Store) Scores(customerID string, limit int) ([]ScoreRecord, error) {
	var scores []ScoreRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoresBucket)).Bucket([]byte(customerID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var record ScoreRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			scores = append(scores, record)
			if limit > 0 && len(scores) >= limit {
				break
			}
		}
		return nil
	})

	return scores, err
}

// ScoresInRange returns a customer's scores with start <= CreatedAt <= end in
// chronological order.
func (s *Store) ScoresInRange(customerID string, start, end time.Time) ([]ScoreRecord, error) {
	var scores []ScoreRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scoresBucket)).Bucket([]byte(customerID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		startKey := timePrefix(start)
		endKey := timePrefix(end.Add(time.Nanosecond))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) < 0; k, v = c.Next() {
			var record ScoreRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			scores = append(scores, record)
		}
		return nil
	})

	return scores, err
}

// Customers returns every customer id with at least one stored score.
func (s *Store) Customers() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scoresBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// timeKey orders records by creation time; the id keeps keys unique.
func timeKey(t time.Time, id string) []byte {
	return append(timePrefix(t), []byte("_"+id)...)
}

func timePrefix(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}
