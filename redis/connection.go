// Package redis provides a kvprobe.Store implementation built on a Redis server.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	log "log/slog"

	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server.
type Options struct {
	// Address is the host:port of the Redis server.
	Address string
	// Password is the password used to authenticate.
	Password string
	// DB is the database index to select.
	DB int
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config
}

// DefaultOptions returns an Options with localhost defaults (no password, DB 0).
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

// URL returns the redis:// form of the address, for display.
func (o Options) URL() string {
	return fmt.Sprintf("redis://%s/%d", o.Address, o.DB)
}

// Connection wraps a redis.Client and the Options used to create it.
// It also remembers the server's run_id so that a restart in the middle of a run,
// which silently drops every key the probe wrote, can be reported.
type Connection struct {
	Client  *redis.Client
	Options Options

	lastSeenRunID atomic.Value
	hasRestarted  atomic.Bool
}

// OpenConnection creates a client for options and verifies the server answers.
// An unreachable server is returned as an error; the probe does not retry.
func OpenConnection(ctx context.Context, options Options) (*Connection, error) {
	log.Info("Opening Redis connection", "address", options.Address, "db", options.DB)
	c := openConnectionFromRedisOptions(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	if err := c.ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenConnectionWithURL is OpenConnection for a Redis URI.
func OpenConnectionWithURL(ctx context.Context, url string) (*Connection, error) {
	log.Info("Opening Redis connection with URL")
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	c := openConnectionFromRedisOptions(opts)
	if err := c.ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) ping(ctx context.Context) error {
	pong, err := c.Client.Ping(ctx).Result()
	if err != nil {
		c.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	log.Debug("Redis Ping success", "response", pong)
	return nil
}

// HasRestarted reports whether the server's run_id changed since the first connect.
func (c *Connection) HasRestarted() bool {
	return c.hasRestarted.Load()
}

// RunID returns the last run_id reported by the server.
func (c *Connection) RunID() string {
	v, _ := c.lastSeenRunID.Load().(string)
	return v
}

func openConnectionFromRedisOptions(opts *redis.Options) *Connection {
	c := &Connection{
		Options: Options{
			Address:   opts.Addr,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: opts.TLSConfig,
		},
	}
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		log.Debug("Redis connected")
		// INFO server carries run_id, which changes on restart.
		info, err := cn.Info(ctx, "server").Result()
		if err != nil {
			return err
		}
		c.observeRunID(parseRunID(info))
		return nil
	}
	c.Client = redis.NewClient(opts)
	return c
}

func (c *Connection) observeRunID(runID string) {
	if runID == "" {
		return
	}
	if lastID := c.RunID(); lastID != "" && runID != lastID {
		log.Warn("Redis server restarted", "old_run_id", lastID, "new_run_id", runID)
		c.hasRestarted.Store(true)
	}
	c.lastSeenRunID.Store(runID)
}

// parseRunID extracts run_id from an INFO reply; lines are of the form key:value.
func parseRunID(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := strings.CutPrefix(line, "run_id:"); ok {
			return v
		}
	}
	return ""
}

// Close closes the underlying client, if not already closed.
func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	log.Debug("Closing underlying Redis client")
	err := c.Client.Close()
	c.Client = nil
	return err
}
