package mcstorage_test

import (
	"context"
	"testing"

	"learn.hostlimit/core"
	mcstorage "learn.hostlimit/internal/storage/memcache"
	"learn.hostlimit/internal/testharness/memcachetest"
)

func BenchmarkMemcacheStorage_IsAllowed(b *testing.B) {
	ctx := context.Background()
	client := memcachetest.SetupMemcachedClient(b)

	configs := []struct {
		name  string
		exact bool
	}{
		{"ReadThenWrite", false},
		{"Exact", true},
	}

	for _, config := range configs {
		b.Run(config.name, func(b *testing.B) {
			prefix := "bench_hostlimit_mc_" + config.name
			host := "benchHostMC"
			memcachetest.CleanupMemcachedKeys(b, client, prefix+":"+host)
			defer memcachetest.CleanupMemcachedKeys(b, client, prefix+":"+host)

			policy, err := core.NewBuilder(mcstorage.NewStorage(client, prefix)).
				Limit(1 << 30).
				ExactCounting(config.exact).
				Build()
			if err != nil {
				b.Fatalf("Build failed: %v", err)
			}
			engine := core.NewEngine(policy)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = engine.IsAllowed(ctx, host)
			}
		})
	}
}
