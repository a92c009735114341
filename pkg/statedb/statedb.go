// Package statedb reads BGP neighbor session state from a SONiC-style
// STATE_DB (Redis DB 6). Nodes that expose it let the peering check
// skip CLI scraping; the management CLI remains the fallback.
package statedb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/clos-tools/fabcheck/pkg/util"
)

// stateDBIndex is the Redis database SONiC assigns to STATE_DB.
const stateDBIndex = 6

// SessionReader is the narrow contract the peering check depends on.
type SessionReader interface {
	// PeerState returns the raw session state string recorded for a
	// neighbor address, or an error wrapping util.ErrNotFound when the
	// neighbor has no STATE_DB entry.
	PeerState(ctx context.Context, neighbor string) (string, error)
	Close() error
}

// Client wraps a Redis client for STATE_DB access.
type Client struct {
	client *redis.Client
}

// NewClient creates a STATE_DB client for the given address.
func NewClient(addr string) *Client {
	return &Client{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   stateDBIndex,
		}),
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// PeerState reads the session state for a BGP neighbor. The key is
// tried with the default-VRF qualifier first, then without.
func (c *Client) PeerState(ctx context.Context, neighbor string) (string, error) {
	for _, key := range neighborKeys(neighbor) {
		vals, err := c.client.HGetAll(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("statedb read %s: %w", key, err)
		}
		if len(vals) > 0 {
			return vals["state"], nil
		}
	}
	return "", fmt.Errorf("BGP neighbor %s: %w", neighbor, util.ErrNotFound)
}

// neighborKeys returns the STATE_DB keys a neighbor entry may live
// under, in lookup order.
func neighborKeys(neighbor string) []string {
	return []string{
		fmt.Sprintf("BGP_NEIGHBOR_TABLE|default|%s", neighbor),
		fmt.Sprintf("BGP_NEIGHBOR_TABLE|%s", neighbor),
	}
}
