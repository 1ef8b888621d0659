package progress

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix prefixes the progress hash of every run key.
const RedisKeyPrefix = "collector:progress:"

// RedisStore keeps one hash per run key, one field per partition holding the JSON entry.
type RedisStore struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{redis: client, logger: logger}
}

func redisKey(runKey string) string {
	return RedisKeyPrefix + runKey
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, runKey string) (map[string]*PartitionProgress, error) {
	fields, err := s.redis.HGetAll(ctx, redisKey(runKey)).Result()
	if err != nil {
		return nil, &PersistenceError{Backend: BackendRedis, Op: "load", RunKey: runKey, Err: err}
	}

	out := make(map[string]*PartitionProgress, len(fields))
	for id, raw := range fields {
		var p PartitionProgress
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, &PersistenceError{Backend: BackendRedis, Op: "load", RunKey: runKey, PartitionID: id,
				Err: fmt.Errorf("decode: %w", err)}
		}
		p.PartitionID = id
		if err := p.Validate(); err != nil {
			return nil, &PersistenceError{Backend: BackendRedis, Op: "load", RunKey: runKey, PartitionID: id, Err: err}
		}
		out[id] = &p
	}
	return out, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, runKey, partitionID string, p *PartitionProgress) error {
	data, err := json.Marshal(p)
	if err == nil {
		err = s.redis.HSet(ctx, redisKey(runKey), partitionID, data).Err()
	}
	recordWrite(BackendRedis, err)
	if err != nil {
		return &PersistenceError{Backend: BackendRedis, Op: "save", RunKey: runKey, PartitionID: partitionID, Err: err}
	}

	s.logger.Debug().
		Str("run_key", runKey).
		Str("partition", partitionID).
		Str("status", string(p.Status)).
		Msg("Progress saved")
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
