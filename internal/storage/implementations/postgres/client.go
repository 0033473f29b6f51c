package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

// PostgresConfig holds configuration for the PostgreSQL release store
type PostgresConfig struct {
	ConnectionString string        `json:"connection_string"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	Database         string        `json:"database"`
	Username         string        `json:"username"`
	Password         string        `json:"password"`
	SSLMode          string        `json:"ssl_mode"`
	Table            string        `json:"table"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	QueryTimeout     time.Duration `json:"query_timeout"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleConns     int           `json:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `json:"conn_max_lifetime"`
}

// PostgresStorage stores releases as JSONB rows with their summary columns alongside
type PostgresStorage struct {
	config  *PostgresConfig
	db      *sql.DB
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

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}

	if config.ConnectionString == "" && config.Host == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres connection string or host is required")
	}

	if config.Table == "" {
		config.Table = constants.DefaultPostgresTable
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = constants.DefaultStorageTimeout
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = constants.DefaultStorageTimeout
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect opens the connection pool and creates the release table if needed
func (p *PostgresStorage) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil // Already connected
	}

	db, err := sql.Open("postgres", p.dsn())
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "connect").
			WithDetails("failed to open database connection")
	}

	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
	}
	if p.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "ping")
	}

	if _, err := db.ExecContext(ctx, p.schemaSQL()); err != nil {
		db.Close()
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "connect").
			WithDetails("failed to initialize schema")
	}

	p.db = db
	p.closed = false

	p.logger.WithFields(logrus.Fields{
		"host":     p.config.Host,
		"database": p.config.Database,
		"table":    p.config.Table,
	}).Info("Connected to PostgreSQL")

	return nil
}

// Close closes the database connection
func (p *PostgresStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.db == nil {
		p.closed = true
		return nil
	}

	err := p.db.Close()
	p.db = nil
	p.closed = true
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "close")
	}

	p.logger.Info("PostgreSQL connection closed")
	return nil
}

// Ping tests the database connection
func (p *PostgresStorage) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return errors.NotConnected(constants.StorageTypePostgres)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		p.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "ping")
	}

	return nil
}

// Health returns the health status of the storage
func (p *PostgresStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{Status: "healthy"}

	if err := p.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = []string{fmt.Sprintf("Connection failed: %v", err)}
	}

	status.Latency = time.Since(start)
	status.LastCheck = time.Now()

	p.metrics.mu.RLock()
	status.Metadata = map[string]interface{}{
		"table":       p.config.Table,
		"read_ops":    p.metrics.readOps,
		"write_ops":   p.metrics.writeOps,
		"delete_ops":  p.metrics.deleteOps,
		"error_count": p.metrics.errorCount,
		"uptime":      time.Since(p.metrics.startTime).String(),
	}
	p.metrics.mu.RUnlock()

	if p.db != nil {
		stats := p.db.Stats()
		status.Metadata["open_connections"] = stats.OpenConnections
		status.Metadata["in_use"] = stats.InUse
	}

	return status, nil
}

// Save upserts a release
func (p *PostgresStorage) Save(ctx context.Context, release *models.Release) error {
	if release == nil || release.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Release ID is required")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return errors.NotConnected(constants.StorageTypePostgres)
	}

	body, err := json.Marshal(release)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to serialize release")
	}
	labels, err := encodeLabels(release.Labels)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	_, err = p.db.ExecContext(ctx, p.upsertSQL(),
		release.ID,
		release.Name,
		release.CreatedAt.UTC(),
		release.DomainSize,
		release.RecordCount,
		release.Epsilon,
		release.Iterations,
		labels,
		body,
	)
	if err != nil {
		p.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "write").
			WithContext("release_id", release.ID)
	}

	p.incrementWriteOps()
	p.logger.WithFields(logrus.Fields{
		"release_id": release.ID,
		"bytes":      len(body),
	}).Debug("Release saved to PostgreSQL")

	return nil
}

// Load reads a release by ID
func (p *PostgresStorage) Load(ctx context.Context, id string) (*models.Release, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return nil, errors.NotConnected(constants.StorageTypePostgres)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT body FROM %s WHERE id = $1", p.table())

	var body []byte
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ReleaseNotFound(id)
		}
		p.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypePostgres, "read").
			WithContext("release_id", id)
	}

	var release models.Release
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to deserialize release")
	}

	p.incrementReadOps()
	return &release, nil
}

// List returns release summaries, newest first. Filtering and paging run in SQL.
func (p *PostgresStorage) List(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return nil, errors.NotConnected(constants.StorageTypePostgres)
	}

	query, args, err := p.listSQL(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		p.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypePostgres, "list")
	}
	defer rows.Close()

	summaries := []models.ReleaseSummary{}
	for rows.Next() {
		var (
			s      models.ReleaseSummary
			labels []byte
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.DomainSize, &s.RecordCount,
			&s.Epsilon, &s.Iterations, &labels); err != nil {
			p.incrementErrorCount()
			return nil, errors.WrapStorageError(err, constants.StorageTypePostgres, "list")
		}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &s.Labels); err != nil {
				return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to decode labels")
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		p.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypePostgres, "list")
	}

	p.incrementReadOps()
	return summaries, nil
}

// Delete removes a release by ID
func (p *PostgresStorage) Delete(ctx context.Context, id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.db == nil {
		return errors.NotConnected(constants.StorageTypePostgres)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	result, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.table()), id)
	if err != nil {
		p.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "delete")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypePostgres, "delete")
	}
	if affected == 0 {
		return errors.ReleaseNotFound(id)
	}

	p.incrementDeleteOps()
	p.logger.WithField("release_id", id).Info("Release deleted from PostgreSQL")
	return nil
}

// Helper methods

func (p *PostgresStorage) dsn() string {
	if p.config.ConnectionString != "" {
		return p.config.ConnectionString
	}

	sslMode := p.config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := p.config.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.config.Host,
		port,
		p.config.Username,
		p.config.Password,
		p.config.Database,
		sslMode,
	)
}

func (p *PostgresStorage) table() string {
	return pq.QuoteIdentifier(p.config.Table)
}

func (p *PostgresStorage) schemaSQL() string {
	table := p.table()
	index := pq.QuoteIdentifier(p.config.Table + "_created_at_idx")
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			domain_size  INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			epsilon      DOUBLE PRECISION NOT NULL,
			iterations   INTEGER NOT NULL,
			labels       JSONB NOT NULL DEFAULT '{}'::jsonb,
			body         JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s ON %s (created_at DESC, id);`, table, index, table)
}

func (p *PostgresStorage) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, name, created_at, domain_size, record_count, epsilon, iterations, labels, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			created_at = EXCLUDED.created_at,
			domain_size = EXCLUDED.domain_size,
			record_count = EXCLUDED.record_count,
			epsilon = EXCLUDED.epsilon,
			iterations = EXCLUDED.iterations,
			labels = EXCLUDED.labels,
			body = EXCLUDED.body`, p.table())
}

func (p *PostgresStorage) listSQL(filter *interfaces.ReleaseFilter) (string, []interface{}, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)

	fmt.Fprintf(&sb, "SELECT id, name, created_at, domain_size, record_count, epsilon, iterations, labels FROM %s", p.table())

	if filter != nil && len(filter.Labels) > 0 {
		labels, err := encodeLabels(filter.Labels)
		if err != nil {
			return "", nil, err
		}
		args = append(args, labels)
		fmt.Fprintf(&sb, " WHERE labels @> $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC, id ASC")

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return sb.String(), args, nil
}

func encodeLabels(labels map[string]string) ([]byte, error) {
	if labels == nil {
		labels = map[string]string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to encode labels")
	}
	return data, nil
}

func (p *PostgresStorage) incrementReadOps() {
	p.metrics.mu.Lock()
	p.metrics.readOps++
	p.metrics.mu.Unlock()
}

func (p *PostgresStorage) incrementWriteOps() {
	p.metrics.mu.Lock()
	p.metrics.writeOps++
	p.metrics.mu.Unlock()
}

func (p *PostgresStorage) incrementDeleteOps() {
	p.metrics.mu.Lock()
	p.metrics.deleteOps++
	p.metrics.mu.Unlock()
}

func (p *PostgresStorage) incrementErrorCount() {
	p.metrics.mu.Lock()
	p.metrics.errorCount++
	p.metrics.mu.Unlock()
}
