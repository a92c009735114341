//go:build integration

// Package testutil holds helpers for integration tests that need a live
// Redis standing in for a SONiC STATE_DB.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
)

// StateDBAddr returns the Redis address for integration tests, or skips
// the test when none is configured.
func StateDBAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("FABCHECK_STATEDB_ADDR")
	if addr == "" {
		t.Skip("FABCHECK_STATEDB_ADDR not set; skipping STATE_DB integration test")
	}
	return addr
}

// SeedNeighbors writes BGP_NEIGHBOR_TABLE entries into the given Redis
// database, keyed the way SONiC bgpcfgd writes them. Entries are removed
// again when the test finishes.
func SeedNeighbors(t *testing.T, addr string, db int, states map[string]string) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx := context.Background()

	keys := make([]string, 0, len(states))
	for neighbor, state := range states {
		key := "BGP_NEIGHBOR_TABLE|default|" + neighbor
		if err := client.HSet(ctx, key, "state", state).Err(); err != nil {
			t.Fatalf("seeding %s: %v", key, err)
		}
		keys = append(keys, key)
	}

	t.Cleanup(func() {
		client.Del(ctx, keys...)
		client.Close()
	})
}
