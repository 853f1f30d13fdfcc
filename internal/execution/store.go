package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runKeyPrefix = "masspay:run:"

// Store persists run state per owner.
type Store interface {
	Load(ctx context.Context, owner string) (State, error)
	Save(ctx context.Context, owner string, s State) error
}

// RedisStore keeps each owner's latest run as a JSON value.
type RedisStore struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisStore(rdb *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, log: log}
}

func runKey(owner string) string {
	return runKeyPrefix + strings.ToLower(owner)
}

// Load returns the owner's run, or the Idle state if none was saved.
func (r *RedisStore) Load(ctx context.Context, owner string) (State, error) {
	raw, err := r.rdb.Get(ctx, runKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load run: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("decode run: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, owner string, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if err := r.rdb.Set(ctx, runKey(owner), raw, 0).Err(); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ScanRunning returns the owners whose saved run was still Running.
func (r *RedisStore) ScanRunning(ctx context.Context) ([]string, error) {
	var owners []string
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, runKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		for _, key := range keys {
			owner := strings.TrimPrefix(key, runKeyPrefix)
			s, err := r.Load(ctx, owner)
			if err != nil {
				r.log.Warn("skipping unreadable run", zap.String("key", key), zap.Error(err))
				continue
			}
			if s.Phase() == PhaseRunning {
				owners = append(owners, owner)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return owners, nil
}
