package jobqueue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technovacao/registration/internal/pkg/env"
)

// DB 14 keeps queue tests away from the cache (0) and limiter (2) databases.
const isolatedJobQueueTestRedisDB = 14

// testRedisAddrs lists candidate endpoints: the configured one, then the
// docker compose service name, then loopback.
func testRedisAddrs() []string {
	port := env.GetEnv("CACHE_PORT", "6379")
	seen := map[string]bool{}
	var out []string
	for _, host := range []string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost"} {
		if host == "" {
			continue
		}
		addr := net.JoinHostPort(host, port)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// newIsolatedRedisClient returns a flushed client on the given DB, or skips
// the test when no Redis answers.
func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	var lastErr error
	for _, addr := range testRedisAddrs() {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       db,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("flush redis db %d: %v", db, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

// WaitForCondition polls condition until it holds or timeout passes.
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
