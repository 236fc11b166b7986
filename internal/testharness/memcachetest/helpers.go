// Package memcachetest holds helpers for tests that talk to a real memcached.
package memcachetest

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// GetMemcachedAddress returns the Memcached address, defaulting to "localhost:11211".
// If MEMCACHED_ADDR environment variable is set, it's used.
// If CI environment variable is "true", it defaults to "memcached:11211" (common in Docker Compose).
func GetMemcachedAddress() string {
	if addr := os.Getenv("MEMCACHED_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("CI") == "true" {
		return "memcached:11211"
	}
	return "localhost:11211"
}

// SetupMemcachedClient returns a client for integration tests. The test is
// skipped if no server answers at GetMemcachedAddress.
func SetupMemcachedClient(tb testing.TB) *memcache.Client {
	tb.Helper()
	memcachedAddr := GetMemcachedAddress()

	mc := memcache.New(memcachedAddr)
	mc.Timeout = 500 * time.Millisecond
	if err := mc.Ping(); err != nil {
		tb.Skipf("Memcached not reachable at %s: %v", memcachedAddr, err)
	}
	return mc
}

// CleanupMemcachedKeys deletes the specified keys from Memcached.
// It logs errors but doesn't fail the test, as cleanup is best-effort.
func CleanupMemcachedKeys(tb testing.TB, client *memcache.Client, keys ...string) {
	tb.Helper()
	for _, key := range keys {
		err := client.Delete(key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			tb.Logf("Warning: Failed to delete Memcached key '%s': %v", key, err)
		}
	}
}
