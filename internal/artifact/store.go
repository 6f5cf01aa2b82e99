// Package artifact persists the selected churn model and its training report
// and serves the current model to the prediction path. A missing model file
// is not an error: the store then serves the constant fallback classifier.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"

	"github.com/rs/zerolog/log"
)

// ErrArtifactCorrupt is returned when a model file exists but cannot be read
// or decoded. It is never masked by the fallback.
var ErrArtifactCorrupt = errors.New("model artifact corrupt")

// FallbackVersion is the version reported while the constant model is served.
const FallbackVersion = "fallback"

// Snapshot is a model together with the identity of the artifact it came from.
type Snapshot struct {
	Model    ml.Classifier
	Version  string
	Fallback bool
	LoadedAt time.Time
}

// fileKey identifies one on-disk revision of the model file.
type fileKey struct {
	modTime int64
	size    int64
}

// Store reads and writes the model artifact and the training report. The
// decoded model is cached until the file's modification time or size changes,
// so a newly written artifact is picked up without a restart. Safe for
// concurrent use.
type Store struct {
	modelPath  string
	reportPath string

	mu      sync.RWMutex
	current *Snapshot
	key     fileKey
}

// NewStore creates a store for the given model and report paths.
func NewStore(modelPath, reportPath string) *Store {
	return &Store{modelPath: modelPath, reportPath: reportPath}
}

// ModelPath returns the location of the model artifact.
func (s *Store) ModelPath() string { return s.modelPath }

// ReportPath returns the location of the training report.
func (s *Store) ReportPath() string { return s.reportPath }

// Load returns the current model: the decoded artifact when the model file
// exists, the constant fallback when it does not.
func (s *Store) Load() (ml.Classifier, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Model, nil
}

// Version returns the fingerprint of the artifact the next Load would serve,
// or FallbackVersion.
func (s *Store) Version() (string, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return "", err
	}
	return snap.Version, nil
}

// Snapshot is Load plus the artifact identity, read atomically.
func (s *Store) Snapshot() (*Snapshot, error) {
	info, err := os.Stat(s.modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s.fallback(), nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrArtifactCorrupt, s.modelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrArtifactCorrupt, s.modelPath)
	}

	key := fileKey{modTime: info.ModTime().UnixNano(), size: info.Size()}
	s.mu.RLock()
	if s.current != nil && !s.current.Fallback && s.key == key {
		snap := s.current
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !s.current.Fallback && s.key == key {
		return s.current, nil
	}

	data, err := os.ReadFile(s.modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s.fallbackLocked(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrArtifactCorrupt, s.modelPath, err)
	}
	model, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.modelPath, err)
	}

	snap := &Snapshot{
		Model:    model,
		Version:  fingerprint(data),
		LoadedAt: time.Now(),
	}
	s.current = snap
	s.key = key

	log.Info().
		Str("path", s.modelPath).
		Str("kind", string(model.Kind())).
		Str("version", snap.Version).
		Int("trees", len(model.Ensemble().Trees)).
		Msg("Model artifact loaded")

	return snap, nil
}

func (s *Store) fallback() *Snapshot {
	s.mu.RLock()
	if s.current != nil && s.current.Fallback {
		snap := s.current
		s.mu.RUnlock()
		return snap
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackLocked()
}

func (s *Store) fallbackLocked() *Snapshot {
	if s.current != nil && s.current.Fallback {
		return s.current
	}
	s.current = &Snapshot{
		Model:    ml.NewConstantModel(common.FallbackProbability),
		Version:  FallbackVersion,
		Fallback: true,
		LoadedAt: time.Now(),
	}
	s.key = fileKey{}
	log.Warn().
		Str("path", s.modelPath).
		Float64("probability", common.FallbackProbability).
		Msg("No model artifact found, serving constant fallback")
	return s.current
}

// Save writes model as the current artifact, replacing any previous one.
// The file is written to a temporary sibling and renamed into place, so
// readers never observe a partial artifact.
func (s *Store) Save(model ml.Classifier) error {
	data, err := Encode(model)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.modelPath, data); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	s.invalidate()

	log.Info().
		Str("path", s.modelPath).
		Str("kind", string(model.Kind())).
		Int("bytes", len(data)).
		Msg("Model artifact saved")
	return nil
}

// Commit writes the model and the training report together. Both are staged
// in temporary files first; if the report cannot be put in place after the
// model was, the previous model is restored (or removed when there was none).
func (s *Store) Commit(model ml.Classifier, report []byte) error {
	data, err := Encode(model)
	if err != nil {
		return err
	}

	modelTmp, err := writeTemp(s.modelPath, data)
	if err != nil {
		return fmt.Errorf("stage model: %w", err)
	}
	defer os.Remove(modelTmp)

	reportTmp, err := writeTemp(s.reportPath, report)
	if err != nil {
		return fmt.Errorf("stage report: %w", err)
	}
	defer os.Remove(reportTmp)

	previous, err := os.ReadFile(s.modelPath)
	hadPrevious := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read previous model: %w", err)
	}

	if err := os.Rename(modelTmp, s.modelPath); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	s.invalidate()

	if err := os.Rename(reportTmp, s.reportPath); err != nil {
		var restoreErr error
		if hadPrevious {
			restoreErr = writeFileAtomic(s.modelPath, previous)
		} else {
			restoreErr = os.Remove(s.modelPath)
		}
		s.invalidate()
		if restoreErr != nil {
			log.Error().Err(restoreErr).Str("path", s.modelPath).Msg("Failed to restore previous model")
			return errors.Join(fmt.Errorf("install report: %w", err), fmt.Errorf("restore model: %w", restoreErr))
		}
		return fmt.Errorf("install report: %w", err)
	}

	log.Info().
		Str("model", s.modelPath).
		Str("report", s.reportPath).
		Str("kind", string(model.Kind())).
		Int("bytes", len(data)).
		Msg("Model and training report committed")
	return nil
}

// Report returns the contents of the training report, or os.ErrNotExist.
func (s *Store) Report() (string, error) {
	data, err := os.ReadFile(s.reportPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.current = nil
	s.key = fileKey{}
	s.mu.Unlock()
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
