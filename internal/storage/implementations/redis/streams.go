package redis

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/models"
)

// TraceStream appends per-iteration private outputs of a run to a Redis stream so
// other services can follow a release as it is built. Only released values are
// written: the selected query and its noisy measurement.
type TraceStream struct {
	storage *RedisStorage
	maxLen  int64
}

// NewTraceStream creates a trace stream on top of a connected RedisStorage.
// maxLen caps each stream approximately; 0 means unbounded.
func NewTraceStream(storage *RedisStorage, maxLen int64) *TraceStream {
	return &TraceStream{storage: storage, maxLen: maxLen}
}

// Publish appends one iteration record to the release's stream
func (t *TraceStream) Publish(ctx context.Context, releaseID string, record models.IterationRecord) error {
	client, err := t.storage.conn()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: t.storage.generateTraceKey(releaseID),
		Values: iterationFields(record),
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}

	if err := client.XAdd(ctx, args).Err(); err != nil {
		t.storage.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeRedis, "write")
	}
	if t.storage.config.TTL > 0 {
		client.Expire(ctx, args.Stream, t.storage.config.TTL)
	}
	return nil
}

// Read returns every record published for a release, in order
func (t *TraceStream) Read(ctx context.Context, releaseID string) ([]models.IterationRecord, error) {
	client, err := t.storage.conn()
	if err != nil {
		return nil, err
	}

	messages, err := client.XRange(ctx, t.storage.generateTraceKey(releaseID), "-", "+").Result()
	if err != nil {
		return nil, errors.WrapStorageError(err, constants.StorageTypeRedis, "read")
	}

	records := make([]models.IterationRecord, 0, len(messages))
	for _, msg := range messages {
		record, err := parseIterationFields(msg.Values)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Malformed trace entry").
				WithContext("entry_id", msg.ID)
		}
		records = append(records, record)
	}
	return records, nil
}

func iterationFields(record models.IterationRecord) map[string]interface{} {
	return map[string]interface{}{
		"iteration":     record.Iteration,
		"query_index":   record.QueryIndex,
		"lower":         record.Query.Lower,
		"upper":         record.Query.Upper,
		"measurement":   formatFloat(record.Measurement),
		"epsilon_spent": formatFloat(record.EpsilonSpent),
	}
}

func parseIterationFields(values map[string]interface{}) (models.IterationRecord, error) {
	var record models.IterationRecord
	var err error

	ints := map[string]*int{
		"iteration":   &record.Iteration,
		"query_index": &record.QueryIndex,
		"lower":       &record.Query.Lower,
		"upper":       &record.Query.Upper,
	}
	for field, dst := range ints {
		if *dst, err = strconv.Atoi(stringValue(values[field])); err != nil {
			return record, err
		}
	}

	if record.Measurement, err = strconv.ParseFloat(stringValue(values["measurement"]), 64); err != nil {
		return record, err
	}
	if record.EpsilonSpent, err = strconv.ParseFloat(stringValue(values["epsilon_spent"]), 64); err != nil {
		return record, err
	}
	return record, nil
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	case nil:
		return ""
	default:
		return ""
	}
}
