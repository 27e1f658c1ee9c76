package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestSequence_SeedsFromFloor(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Hour)

	seq, err := adapter.Next(ctx, 1, "20240315", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 8 {
		t.Errorf("expected 8, got %d", seq)
	}

	seq, _ = adapter.Next(ctx, 1, "20240315", 0)
	if seq != 9 {
		t.Errorf("expected 9, got %d", seq)
	}

	// other restaurant, other counter
	seq, _ = adapter.Next(ctx, 2, "20240315", 0)
	if seq != 1 {
		t.Errorf("expected 1, got %d", seq)
	}
}

func TestSequence_ExpiresAndReseeds(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Hour)

	if _, err := adapter.Next(ctx, 1, "20240315", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL("order_seq:1:20240315"); ttl != sequenceKeyTTL {
		t.Errorf("expected ttl %v, got %v", sequenceKeyTTL, ttl)
	}

	mr.FastForward(sequenceKeyTTL + time.Second)

	seq, err := adapter.Next(ctx, 1, "20240315", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 6 {
		t.Errorf("expected reseeded counter to return 6, got %d", seq)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Hour)

	var wg sync.WaitGroup
	seen := sync.Map{}
	var dupCount atomic.Int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := adapter.Next(ctx, 1, "20240315", 0)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if _, dup := seen.LoadOrStore(seq, true); dup {
				dupCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if dupCount.Load() != 0 {
		t.Errorf("expected unique sequences, got %d duplicates", dupCount.Load())
	}
}

func TestIdempotency_Lifecycle(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "idempotency:order:1:req-1"

	ok, err := adapter.Reserve(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected first reserve to succeed, got %v %v", ok, err)
	}

	ok, _ = adapter.Reserve(ctx, key)
	if ok {
		t.Error("expected second reserve to fail")
	}

	_, done, err := adapter.Lookup(ctx, key)
	if err != nil || done {
		t.Errorf("expected in-flight key, got done=%v err=%v", done, err)
	}

	if err := adapter.Complete(ctx, key, 42); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	orderID, done, err := adapter.Lookup(ctx, key)
	if err != nil || !done || orderID != 42 {
		t.Errorf("expected order 42, got %d done=%v err=%v", orderID, done, err)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = adapter.Reserve(ctx, key)
	if !ok {
		t.Error("expected reserve to succeed after expiry")
	}
}

func TestIdempotency_Release(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	adapter.Reserve(ctx, "k")
	if err := adapter.Release(ctx, "k"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	_, done, err := adapter.Lookup(ctx, "k")
	if err != nil || done {
		t.Errorf("expected missing key, got done=%v err=%v", done, err)
	}
	if ok, _ := adapter.Reserve(ctx, "k"); !ok {
		t.Error("expected reserve after release to succeed")
	}
}

func TestIdempotency_ConcurrentReserve(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Reserve(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

// TestSequence_LiveRedis runs against a real server when one is reachable.
func TestSequence_LiveRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, "order_seq:999:20240315")

	seq, err := adapter.Next(ctx, 999, "20240315", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 4 {
		t.Errorf("expected 4, got %d", seq)
	}
	client.Del(ctx, "order_seq:999:20240315")
}
