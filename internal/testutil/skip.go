// Package testutil holds helpers shared by tests that need external services.
package testutil

import (
	"os"
	"testing"
)

// Environment variables that point integration tests at real services.
const (
	RedisAddrEnv   = "COURIER_TEST_REDIS_ADDR"
	PostgresDSNEnv = "COURIER_TEST_POSTGRES_DSN"
)

// RequireRedis returns the Redis address to test against, or skips the test
// if RedisAddrEnv is not set.
func RequireRedis(t *testing.T) string {
	t.Helper()
	return requireEnv(t, RedisAddrEnv, "redis")
}

// RequirePostgres returns the PostgreSQL DSN to test against, or skips the
// test if PostgresDSNEnv is not set.
func RequirePostgres(t *testing.T) string {
	t.Helper()
	return requireEnv(t, PostgresDSNEnv, "postgres")
}

func requireEnv(t *testing.T, key, service string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("skipping %s test: %s is not set", service, key)
	}
	return value
}
