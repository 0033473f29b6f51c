// Package memory provides an in-process release store for tests, dry runs and
// single-node deployments that do not need persistence.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

// MemoryStorage keeps releases as encoded JSON so callers can never alias stored state
type MemoryStorage struct {
	logger    *logrus.Logger
	mu        sync.RWMutex
	releases  map[string][]byte
	connected bool
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage(logger *logrus.Logger) *MemoryStorage {
	if logger == nil {
		logger = logrus.New()
	}

	return &MemoryStorage{
		logger:   logger,
		releases: make(map[string][]byte),
	}
}

// Connect implements interfaces.Storage
func (m *MemoryStorage) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close implements interfaces.Storage
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Ping implements interfaces.Storage
func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return errors.NotConnected(constants.StorageTypeMemory)
	}
	return nil
}

// Health implements interfaces.Storage
func (m *MemoryStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	status := &interfaces.HealthStatus{Status: "healthy", LastCheck: time.Now()}
	if err := m.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = []string{err.Error()}
	}

	m.mu.RLock()
	status.Metadata = map[string]interface{}{"releases": len(m.releases)}
	m.mu.RUnlock()

	return status, nil
}

// Save implements interfaces.ReleaseStore
func (m *MemoryStorage) Save(ctx context.Context, release *models.Release) error {
	if release == nil || release.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Release ID is required")
	}

	data, err := json.Marshal(release)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to encode release")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.NotConnected(constants.StorageTypeMemory)
	}
	m.releases[release.ID] = data
	return nil
}

// Load implements interfaces.ReleaseStore
func (m *MemoryStorage) Load(ctx context.Context, id string) (*models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, errors.NotConnected(constants.StorageTypeMemory)
	}

	data, ok := m.releases[id]
	if !ok {
		return nil, errors.ReleaseNotFound(id)
	}

	var release models.Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to decode release")
	}
	return &release, nil
}

// List implements interfaces.ReleaseStore
func (m *MemoryStorage) List(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return nil, errors.NotConnected(constants.StorageTypeMemory)
	}

	summaries := make([]models.ReleaseSummary, 0, len(m.releases))
	for _, data := range m.releases {
		var release models.Release
		if err := json.Unmarshal(data, &release); err != nil {
			m.logger.WithError(err).Warn("Skipping undecodable release")
			continue
		}
		summaries = append(summaries, release.Summary())
	}

	return filter.Apply(summaries), nil
}

// Delete implements interfaces.ReleaseStore
func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.NotConnected(constants.StorageTypeMemory)
	}
	if _, ok := m.releases[id]; !ok {
		return errors.ReleaseNotFound(id)
	}
	delete(m.releases, id)
	return nil
}
