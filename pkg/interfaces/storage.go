package interfaces

import (
	"context"
	"sort"
	"time"

	"github.com/inferloop/mwem/pkg/models"
)

// Storage defines the lifecycle shared by every storage backend
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error

	// Health returns health status of the storage
	Health(ctx context.Context) (*HealthStatus, error)
}

// ReleaseStore persists published MWEM releases. A release holds only differentially
// private outputs, so stores never see the private dataset.
type ReleaseStore interface {
	Storage

	// Save writes a release, replacing any release with the same ID
	Save(ctx context.Context, release *models.Release) error

	// Load reads a release by ID
	Load(ctx context.Context, id string) (*models.Release, error)

	// List returns release summaries, newest first
	List(ctx context.Context, filter *ReleaseFilter) ([]models.ReleaseSummary, error)

	// Delete removes a release by ID
	Delete(ctx context.Context, id string) error
}

// TraceSink receives the private outputs of each iteration while a release is built
type TraceSink interface {
	// Publish records one iteration of the release with the given ID
	Publish(ctx context.Context, releaseID string, record models.IterationRecord) error
}

// ReleaseFilter narrows a List call
type ReleaseFilter struct {
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// StorageFactory creates storage instances
type StorageFactory interface {
	// CreateStorage creates a new release store
	CreateStorage(storageType string, config StorageConfig) (ReleaseStore, error)

	// GetSupportedTypes returns supported storage types
	GetSupportedTypes() []string

	// RegisterStorage registers a new storage type
	RegisterStorage(storageType string, createFunc StorageCreateFunc) error

	// IsSupported checks if a storage type is supported
	IsSupported(storageType string) bool
}

// StorageCreateFunc is a function that creates a storage instance
type StorageCreateFunc func(config StorageConfig) (ReleaseStore, error)

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type             string        `json:"type" mapstructure:"type"`
	ConnectionString string        `json:"connection_string" mapstructure:"connection_string"`
	Path             string        `json:"path,omitempty" mapstructure:"path"`
	Database         string        `json:"database,omitempty" mapstructure:"database"`
	Username         string        `json:"username,omitempty" mapstructure:"username"`
	Password         string        `json:"password,omitempty" mapstructure:"password"`
	Bucket           string        `json:"bucket,omitempty" mapstructure:"bucket"`
	Region           string        `json:"region,omitempty" mapstructure:"region"`
	Endpoint         string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Prefix           string        `json:"prefix,omitempty" mapstructure:"prefix"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxConnections   int           `json:"max_connections" mapstructure:"max_connections"`
	TTL              time.Duration `json:"ttl,omitempty" mapstructure:"ttl"`
}

// HealthStatus represents the health status of storage
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Errors    []string               `json:"errors,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Apply sorts summaries newest first and applies the label, offset and limit filters.
// A nil filter only sorts.
func (f *ReleaseFilter) Apply(summaries []models.ReleaseSummary) []models.ReleaseSummary {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	if f == nil {
		return summaries
	}

	if len(f.Labels) > 0 {
		kept := make([]models.ReleaseSummary, 0, len(summaries))
		for _, s := range summaries {
			if matchLabels(s.Labels, f.Labels) {
				kept = append(kept, s)
			}
		}
		summaries = kept
	}

	if f.Offset > 0 {
		if f.Offset >= len(summaries) {
			return []models.ReleaseSummary{}
		}
		summaries = summaries[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(summaries) {
		summaries = summaries[:f.Limit]
	}
	return summaries
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
