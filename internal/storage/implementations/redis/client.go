package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `json:"addr"`
	Password      string        `json:"password"`
	DB            int           `json:"db"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	PoolSize      int           `json:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries"`
	IdleTimeout   time.Duration `json:"idle_timeout"`
	TTL           time.Duration `json:"ttl"`
	KeyPrefix     string        `json:"key_prefix"`
	UseClustering bool          `json:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs"`
}

// RedisStorage stores each release as a JSON string and keeps a sorted-set index
// scored by creation time for listing
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// NewRedisStorageWithClient wraps an existing client, e.g. one shared with a trace stream
func NewRedisStorageWithClient(client redis.UniversalClient, config *RedisConfig, logger *logrus.Logger) *RedisStorage {
	if config == nil {
		config = &RedisConfig{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStorage{
		config:  config,
		client:  client,
		logger:  logger,
		metrics: &storageMetrics{startTime: time.Now()},
	}
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil // Already connected
	}

	client := NewUniversalClient(r.config)

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "connect")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// NewUniversalClient builds a single-node or cluster client from config
func NewUniversalClient(config *RedisConfig) redis.UniversalClient {
	if config.UseClustering && len(config.ClusterAddrs) > 0 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        config.ClusterAddrs,
			Password:     config.Password,
			DialTimeout:  config.DialTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			PoolSize:     config.PoolSize,
			MinIdleConns: config.MinIdleConns,
			MaxRetries:   config.MaxRetries,
			IdleTimeout:  config.IdleTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		IdleTimeout:  config.IdleTimeout,
	})
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	r.closed = true
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "close")
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "ping")
	}

	return nil
}

// Health returns the health status of the storage
func (r *RedisStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{Status: "healthy"}

	if err := r.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = append(status.Errors, fmt.Sprintf("Connection failed: %v", err))
	}
	status.Latency = time.Since(start)
	status.LastCheck = time.Now()

	r.metrics.mu.RLock()
	status.Metadata = map[string]interface{}{
		"read_ops":    r.metrics.readOps,
		"write_ops":   r.metrics.writeOps,
		"delete_ops":  r.metrics.deleteOps,
		"error_count": r.metrics.errorCount,
		"uptime":      time.Since(r.metrics.startTime).String(),
	}
	r.metrics.mu.RUnlock()

	if client, err := r.conn(); err == nil {
		if count, err := client.ZCard(ctx, r.generateIndexKey()).Result(); err == nil {
			status.Metadata["releases"] = count
		}
	}

	return status, nil
}

// Save writes a release and indexes it by creation time
func (r *RedisStorage) Save(ctx context.Context, release *models.Release) error {
	if release == nil || release.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Release ID is required")
	}

	client, err := r.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(release)
	if err != nil {
		r.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to serialize release")
	}

	start := time.Now()
	pipe := client.TxPipeline()
	pipe.Set(ctx, r.generateReleaseKey(release.ID), data, r.config.TTL)
	pipe.ZAdd(ctx, r.generateIndexKey(), &redis.Z{
		Score:  float64(release.CreatedAt.UnixNano()),
		Member: release.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "write")
	}

	r.incrementWriteOps()
	r.logger.WithFields(logrus.Fields{
		"release_id": release.ID,
		"duration":   time.Since(start),
	}).Debug("Release written to Redis")

	return nil
}

// Load reads a release by ID
func (r *RedisStorage) Load(ctx context.Context, id string) (*models.Release, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, r.generateReleaseKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.ReleaseNotFound(id)
	}
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypeRedis, "read")
	}
	r.incrementReadOps()

	var release models.Release
	if err := json.Unmarshal(data, &release); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to deserialize release")
	}

	return &release, nil
}

// List returns release summaries, newest first. Index entries whose release has
// expired are pruned as they are found.
func (r *RedisStorage) List(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	ids, err := client.ZRevRange(ctx, r.generateIndexKey(), 0, -1).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypeRedis, "list")
	}
	if len(ids) == 0 {
		return []models.ReleaseSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.generateReleaseKey(id)
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		r.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypeRedis, "list")
	}

	summaries := make([]models.ReleaseSummary, 0, len(ids))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}

		var summary models.ReleaseSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			r.logger.WithError(err).WithField("release_id", ids[i]).Warn("Skipping undecodable release")
			continue
		}
		summaries = append(summaries, summary)
	}

	if len(expired) > 0 {
		if err := client.ZRem(ctx, r.generateIndexKey(), expired...).Err(); err != nil {
			r.logger.WithError(err).Warn("Failed to prune expired release index entries")
		}
	}

	r.incrementReadOps()
	return filter.Apply(summaries), nil
}

// Delete removes a release by ID
func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	client, err := r.conn()
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	deleted := pipe.Del(ctx, r.generateReleaseKey(id))
	pipe.ZRem(ctx, r.generateIndexKey(), id)

	if _, err := pipe.Exec(ctx); err != nil {
		r.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "delete")
	}
	if deleted.Val() == 0 {
		return errors.ReleaseNotFound(id)
	}

	r.incrementDeleteOps()
	r.logger.WithField("release_id", id).Info("Release deleted")
	return nil
}

func (r *RedisStorage) conn() (redis.UniversalClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, errors.NotConnected(constants.StorageTypeRedis)
	}
	return r.client, nil
}

func (r *RedisStorage) generateReleaseKey(id string) string {
	return r.key("release", id)
}

func (r *RedisStorage) generateIndexKey() string {
	return r.key("index")
}

func (r *RedisStorage) generateTraceKey(id string) string {
	return r.key("trace", id)
}

func (r *RedisStorage) key(parts ...string) string {
	if r.config.KeyPrefix != "" {
		parts = append([]string{strings.TrimSuffix(r.config.KeyPrefix, ":")}, parts...)
	}
	return strings.Join(parts, ":")
}

func (r *RedisStorage) incrementReadOps() {
	r.metrics.mu.Lock()
	r.metrics.readOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementWriteOps() {
	r.metrics.mu.Lock()
	r.metrics.writeOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementDeleteOps() {
	r.metrics.mu.Lock()
	r.metrics.deleteOps++
	r.metrics.mu.Unlock()
}

func (r *RedisStorage) incrementErrorCount() {
	r.metrics.mu.Lock()
	r.metrics.errorCount++
	r.metrics.mu.Unlock()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
