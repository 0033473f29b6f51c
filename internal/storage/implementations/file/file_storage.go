package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

const releaseExt = ".json"

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"` // auto-create directories
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"` // fsync before rename
}

// FileStorage stores one JSON document per release under BasePath
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "FileStorageConfig cannot be nil")
	}

	if config.BasePath == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "BasePath is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect initializes the file storage
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0755); err != nil {
			return errors.WrapStorageError(err, constants.StorageTypeFile, "connect").
				WithDetails(fmt.Sprintf("failed to create directory %s", fs.config.BasePath))
		}
	}

	info, err := os.Stat(fs.config.BasePath)
	if err != nil || !info.IsDir() {
		return errors.NewStorageError("PATH_NOT_FOUND", fmt.Sprintf("Base path does not exist: %s", fs.config.BasePath))
	}

	// Test write permissions
	testFile := filepath.Join(fs.config.BasePath, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewStorageError("PERMISSION_DENIED", fmt.Sprintf("Cannot write to directory: %s", fs.config.BasePath))
	}
	file.Close()
	os.Remove(testFile)

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("File storage connected")

	return nil
}

// Close marks the storage as disconnected
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return nil
	}

	fs.connected = false
	fs.logger.Info("File storage disconnected")
	return nil
}

// Ping verifies the base path is still accessible
func (fs *FileStorage) Ping(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NotConnected(constants.StorageTypeFile)
	}

	if _, err := os.Stat(fs.config.BasePath); err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeFile, "ping")
	}

	return nil
}

// Health returns the health status of the storage
func (fs *FileStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{
		Status:    "healthy",
		LastCheck: start,
		Metadata:  map[string]interface{}{"base_path": fs.config.BasePath},
	}

	if err := fs.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = []string{err.Error()}
	}
	status.Latency = time.Since(start)

	return status, nil
}

// Save writes a release atomically via a temporary file and rename
func (fs *FileStorage) Save(ctx context.Context, release *models.Release) error {
	if release == nil || release.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Release ID is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return errors.NotConnected(constants.StorageTypeFile)
	}

	path, err := fs.releasePath(release.ID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.config.BasePath, ".release-*")
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeFile, "write")
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(release); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to encode release")
	}

	if fs.config.SyncWrites {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return errors.WrapStorageError(err, constants.StorageTypeFile, "write")
		}
	}

	if err := tmp.Close(); err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeFile, "write")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeFile, "write")
	}

	fs.logger.WithFields(logrus.Fields{
		"release_id": release.ID,
		"file":       path,
	}).Debug("Release written to file")

	return nil
}

// Load reads a release by ID
func (fs *FileStorage) Load(ctx context.Context, id string) (*models.Release, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NotConnected(constants.StorageTypeFile)
	}

	path, err := fs.releasePath(id)
	if err != nil {
		return nil, err
	}

	return fs.readFile(path, id)
}

// List returns release summaries, newest first
func (fs *FileStorage) List(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NotConnected(constants.StorageTypeFile)
	}

	entries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		return nil, errors.WrapStorageError(err, constants.StorageTypeFile, "list")
	}

	summaries := make([]models.ReleaseSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != releaseExt {
			continue
		}

		id := strings.TrimSuffix(name, releaseExt)
		release, err := fs.readFile(filepath.Join(fs.config.BasePath, name), id)
		if err != nil {
			fs.logger.WithError(err).WithField("file", name).Warn("Skipping unreadable release file")
			continue
		}
		summaries = append(summaries, release.Summary())
	}

	return filter.Apply(summaries), nil
}

// Delete removes a release by ID
func (fs *FileStorage) Delete(ctx context.Context, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return errors.NotConnected(constants.StorageTypeFile)
	}

	path, err := fs.releasePath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.ReleaseNotFound(id)
		}
		return errors.WrapStorageError(err, constants.StorageTypeFile, "delete")
	}

	fs.logger.WithField("release_id", id).Info("Release deleted")
	return nil
}

// releasePath maps an ID to its file, refusing anything that could escape BasePath
func (fs *FileStorage) releasePath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("Invalid release ID: %q", id))
	}
	return filepath.Join(fs.config.BasePath, id+releaseExt), nil
}

func (fs *FileStorage) readFile(path, id string) (*models.Release, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ReleaseNotFound(id)
		}
		return nil, errors.WrapStorageError(err, constants.StorageTypeFile, "read")
	}

	var release models.Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to decode release").
			WithContext("file", path)
	}

	return &release, nil
}
