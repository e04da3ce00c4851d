package journal

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set, skipping Redis journal test")
	}
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			t.Skipf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisJournalRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	j := NewRedisJournal(rdb, time.Minute)

	runID := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		rdb.Del(context.Background(), key(runID, "small"), key(runID, "large"))
	})

	if _, ok, err := j.Load(ctx, runID, "small"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	small := []byte(`{"ingested":3}`)
	large := []byte(`{"chunks":["` + strings.Repeat("overlapping passage ", 500) + `"]}`)
	for step, data := range map[string][]byte{"small": small, "large": large} {
		if err := j.Save(ctx, runID, step, data); err != nil {
			t.Fatalf("Save %s: %v", step, err)
		}
		got, ok, err := j.Load(ctx, runID, step)
		if err != nil || !ok {
			t.Fatalf("Load %s: ok=%v err=%v", step, ok, err)
		}
		if string(got) != string(data) {
			t.Fatalf("Load %s returned different bytes", step)
		}
	}

	ttl, err := rdb.TTL(ctx, key(runID, "large")).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("expected a TTL, got %v (%v)", ttl, err)
	}
}
