package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conversepdf/utils"
)

// KeyPrefix namespaces step results in Redis.
const KeyPrefix = "conversepdf:step:"

// RedisJournal persists step results in Redis with a TTL, compressing large payloads.
type RedisJournal struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisJournal(rdb redis.Cmdable, ttl time.Duration) *RedisJournal {
	return &RedisJournal{rdb: rdb, ttl: ttl}
}

func (j *RedisJournal) Load(ctx context.Context, runID, step string) ([]byte, bool, error) {
	packed, err := j.rdb.Get(ctx, key(runID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("journal: load %s: %w", step, err)
	}

	data, err := utils.Unpack(packed)
	if err != nil {
		// A corrupt entry is treated as missing so the step is recomputed.
		return nil, false, nil
	}
	return data, true, nil
}

func (j *RedisJournal) Save(ctx context.Context, runID, step string, data []byte) error {
	packed, err := utils.Pack(data)
	if err != nil {
		return fmt.Errorf("journal: pack %s: %w", step, err)
	}
	if err := j.rdb.Set(ctx, key(runID, step), packed, j.ttl).Err(); err != nil {
		return fmt.Errorf("journal: save %s: %w", step, err)
	}
	return nil
}
