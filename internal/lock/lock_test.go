package lock

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	if Key("petr4") != Key(" PETR4 ") {
		t.Errorf("Key should ignore case and surrounding space")
	}
	if Key("PETR4") == Key("VALE3") {
		t.Errorf("Different tickers should map to different keys")
	}
	if !strings.HasPrefix(Key("PETR4"), "refresh:") {
		t.Errorf("Unexpected key format %q", Key("PETR4"))
	}
}

func TestManagerDoubleAcquire(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	key := Key("PETR4")

	ok, err := m.TryAcquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("First acquire should succeed, got %v %v", ok, err)
	}
	if ok, _ := m.TryAcquire(ctx, key); ok {
		t.Errorf("Second acquire should report busy")
	}
	if ok, _ := m.TryAcquire(ctx, Key("VALE3")); !ok {
		t.Errorf("Other keys should be independent")
	}

	m.Release(ctx, key)
	if m.Held(key) {
		t.Errorf("Key should be free after release")
	}
	if ok, _ := m.TryAcquire(ctx, key); !ok {
		t.Errorf("Acquire after release should succeed")
	}
}

func TestManagerReleaseIdempotent(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	if err := m.Release(ctx, "never-acquired"); err != nil {
		t.Errorf("Release of unknown key should be a no-op, got %v", err)
	}
	m.TryAcquire(ctx, "k")
	m.Release(ctx, "k")
	if err := m.Release(ctx, "k"); err != nil {
		t.Errorf("Double release should be a no-op, got %v", err)
	}
}

func TestManagerConcurrentSingleWinner(t *testing.T) {
	m := NewManager()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.TryAcquire(context.Background(), "k"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}

func TestManagerCancelledContext(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := m.TryAcquire(ctx, "k"); ok || err == nil {
		t.Errorf("Cancelled context should fail the acquire, got %v %v", ok, err)
	}
	m.Close()
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL failed: %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := context.Background()
	key := Key("TEST-" + time.Now().Format("150405.000000"))
	a := NewRedisLocker(client, 5*time.Second)
	b := NewRedisLocker(client, 5*time.Second)

	if ok, err := a.TryAcquire(ctx, key); err != nil || !ok {
		t.Fatalf("First acquire should succeed, got %v %v", ok, err)
	}
	if ok, _ := b.TryAcquire(ctx, key); ok {
		t.Errorf("Second locker should see the key busy")
	}
	// b never held it, so its release must not free a's lock.
	b.Release(ctx, key)
	if ok, _ := b.TryAcquire(ctx, key); ok {
		t.Errorf("Foreign release must not drop the lock")
	}
	if err := a.Release(ctx, key); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx, key); !ok {
		t.Errorf("Acquire after release should succeed")
	}
	b.Release(ctx, key)
}
