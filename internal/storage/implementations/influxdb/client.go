package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

const storageType = "influxdb"

// InfluxDBConfig contains configuration for the iteration trace writer
type InfluxDBConfig struct {
	URL          string        `json:"url" yaml:"url"`
	Token        string        `json:"token" yaml:"token"`
	Organization string        `json:"organization" yaml:"organization"`
	Bucket       string        `json:"bucket" yaml:"bucket"`
	Measurement  string        `json:"measurement" yaml:"measurement"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	UseGZip      bool          `json:"use_gzip" yaml:"use_gzip"`
}

// TraceWriter records the private outputs of each MWEM iteration as InfluxDB points,
// one point per iteration tagged with the release ID.
type TraceWriter struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	queryAPI  api.QueryAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewTraceWriter creates a new InfluxDB trace writer
func NewTraceWriter(config *InfluxDBConfig, logger *logrus.Logger) (*TraceWriter, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB URL is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	// Set defaults
	if config.Timeout == 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}
	if config.Bucket == "" {
		config.Bucket = constants.DefaultTraceBucket
	}
	if config.Measurement == "" {
		config.Measurement = constants.DefaultTraceMeasurement
	}

	return &TraceWriter{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to InfluxDB
func (w *TraceWriter) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetUseGZip(w.config.UseGZip)
	options.SetPrecision(time.Nanosecond)
	options.SetHTTPRequestTimeout(uint(w.config.Timeout.Seconds()))

	client := influxdb2.NewClientWithOptions(w.config.URL, w.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapStorageError(err, storageType, "connect")
	}
	if !ok {
		client.Close()
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}

	w.client = client
	w.writeAPI = client.WriteAPIBlocking(w.config.Organization, w.config.Bucket)
	w.queryAPI = client.QueryAPI(w.config.Organization)
	w.connected = true

	w.logger.WithFields(logrus.Fields{
		"url":          w.config.URL,
		"organization": w.config.Organization,
		"bucket":       w.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close closes the connection to InfluxDB
func (w *TraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return nil
	}

	w.client.Close()
	w.connected = false
	w.logger.Info("Disconnected from InfluxDB")

	return nil
}

// Ping checks the health of the InfluxDB connection
func (w *TraceWriter) Ping(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.connected {
		return errors.NotConnected(storageType)
	}

	ok, err := w.client.Ping(ctx)
	if err != nil {
		return errors.WrapStorageError(err, storageType, "ping")
	}
	if !ok {
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping returned false")
	}
	return nil
}

// Publish writes one iteration point for a release
func (w *TraceWriter) Publish(ctx context.Context, releaseID string, record models.IterationRecord) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.connected {
		return errors.NotConnected(storageType)
	}

	point := w.pointFor(releaseID, record, time.Now())
	if err := w.writeAPI.WritePoint(ctx, point); err != nil {
		return errors.WrapStorageError(err, storageType, "write").
			WithContext("release_id", releaseID)
	}

	w.logger.WithFields(logrus.Fields{
		"release_id": releaseID,
		"iteration":  record.Iteration,
	}).Debug("Wrote iteration point to InfluxDB")

	return nil
}

// Read returns the iteration trace of a release in iteration order
func (w *TraceWriter) Read(ctx context.Context, releaseID string) ([]models.IterationRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.connected {
		return nil, errors.NotConnected(storageType)
	}

	fluxQuery := w.buildFluxQuery(releaseID)

	w.logger.WithFields(logrus.Fields{
		"query": fluxQuery,
	}).Debug("Executing InfluxDB query")

	result, err := w.queryAPI.Query(ctx, fluxQuery)
	if err != nil {
		return nil, errors.WrapStorageError(err, storageType, "read")
	}
	defer result.Close()

	var records []models.IterationRecord
	for result.Next() {
		record, err := parseRecord(result.Record().Values())
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if result.Err() != nil {
		return nil, errors.WrapStorageError(result.Err(), storageType, "read")
	}

	return records, nil
}

func (w *TraceWriter) pointFor(releaseID string, record models.IterationRecord, ts time.Time) *write.Point {
	return influxdb2.NewPoint(
		w.config.Measurement,
		map[string]string{
			"release_id": releaseID,
			"iteration":  strconv.Itoa(record.Iteration),
		},
		map[string]interface{}{
			"query_index":   record.QueryIndex,
			"lower":         record.Query.Lower,
			"upper":         record.Query.Upper,
			"measurement":   record.Measurement,
			"epsilon_spent": record.EpsilonSpent,
		},
		ts,
	)
}

// buildFluxQuery pivots the fields of one release back into rows
func (w *TraceWriter) buildFluxQuery(releaseID string) string {
	return fmt.Sprintf(`from(bucket: %q)
	|> range(start: 0)
	|> filter(fn: (r) => r._measurement == %q)
	|> filter(fn: (r) => r.release_id == %q)
	|> pivot(rowKey: ["_time", "iteration"], columnKey: ["_field"], valueColumn: "_value")
	|> group()
	|> sort(columns: ["_time"])`, w.config.Bucket, w.config.Measurement, releaseID)
}

func parseRecord(values map[string]interface{}) (models.IterationRecord, error) {
	var record models.IterationRecord

	iteration, err := strconv.Atoi(fmt.Sprint(values["iteration"]))
	if err != nil {
		return record, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Invalid iteration tag")
	}

	record.Iteration = iteration
	record.QueryIndex = int(getIntValue(values["query_index"]))
	record.Query = models.Query{
		Lower: int(getIntValue(values["lower"])),
		Upper: int(getIntValue(values["upper"])),
	}
	record.Measurement = getFloatValue(values["measurement"])
	record.EpsilonSpent = getFloatValue(values["epsilon_spent"])

	return record, nil
}

func getIntValue(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func getFloatValue(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}
