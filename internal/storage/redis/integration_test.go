package redisstorage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"learn.hostlimit/core"
	"learn.hostlimit/internal/clock"
	redisstorage "learn.hostlimit/internal/storage/redis"
	"learn.hostlimit/internal/testharness/redistest"
)

func TestRedisStorage_Integration(t *testing.T) {
	client := redistest.SetupRedisClient(t)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		prefix := "test_hostlimit_roundtrip"
		redistest.CleanupRedisKeys(t, client, prefix)
		defer redistest.CleanupRedisKeys(t, client, prefix)

		s := redisstorage.NewStorage(client, prefix)
		now := s.Now()

		if err := s.Set(ctx, "user1", 3, now); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "user1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got == nil || got.Trial != 3 || !got.LastRequest.Equal(now) {
			t.Fatalf("Get = %+v, want trial 3 at %v", got, now)
		}

		if err := s.Remove(ctx, "user1"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := s.Remove(ctx, "user1"); err != nil {
			t.Fatalf("second Remove failed: %v", err)
		}
		if got, _ := s.Get(ctx, "user1"); got != nil {
			t.Fatalf("Get after Remove = %+v, want nil", got)
		}
	})

	t.Run("Engine", func(t *testing.T) {
		prefix := "test_hostlimit_engine"
		redistest.CleanupRedisKeys(t, client, prefix)
		defer redistest.CleanupRedisKeys(t, client, prefix)

		c := clock.NewManual(time.Now())
		s := redisstorage.NewStorage(client, prefix, redisstorage.WithClock(c.Now))
		policy, err := core.NewBuilder(s).Limit(2).Timeout(3 * time.Second).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		e := core.NewEngine(policy)

		for i, want := range []bool{true, true, false} {
			v, err := e.IsAllowed(ctx, "user2")
			if err != nil {
				t.Fatalf("call %d: %v", i+1, err)
			}
			if v.Allowed != want {
				t.Fatalf("call %d: allowed = %v, want %v", i+1, v.Allowed, want)
			}
		}

		c.Advance(3 * time.Second)
		v, err := e.IsAllowed(ctx, "user2")
		if err != nil || !v.Allowed {
			t.Fatalf("call after timeout: %+v, %v", v, err)
		}
	})

	t.Run("ExactCountingUnderContention", func(t *testing.T) {
		prefix := "test_hostlimit_exact"
		redistest.CleanupRedisKeys(t, client, prefix)
		defer redistest.CleanupRedisKeys(t, client, prefix)

		s := redisstorage.NewStorage(client, prefix, redisstorage.WithMaxRetries(100))
		policy, err := core.NewBuilder(s).Limit(7).Timeout(time.Hour).ExactCounting(true).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		e := core.NewEngine(policy)

		var allowed atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := e.IsAllowed(ctx, "user3")
				if err != nil {
					t.Errorf("IsAllowed failed: %v", err)
					return
				}
				if v.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		if got := allowed.Load(); got != 7 {
			t.Fatalf("allowed = %d, want 7", got)
		}
	})
}
