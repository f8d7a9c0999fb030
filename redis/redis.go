package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/kvprobe"
)

type client struct {
	conn    *Connection
	scripts map[string]*redis.Script
}

// NewClient returns a Store that issues commands over conn.
// The Store owns conn from then on; Close closes it.
func NewClient(conn *Connection) kvprobe.Store {
	return &client{
		conn:    conn,
		scripts: make(map[string]*redis.Script),
	}
}

func (c *client) getConnection() (*Connection, error) {
	if c.conn == nil || c.conn.Client == nil {
		return nil, fmt.Errorf("redis connection is not open")
	}
	return c.conn, nil
}

// keyNotFound reports whether the provided error corresponds to a missing key in Redis.
func keyNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// isServerError reports whether err is an error reply from the server rather than a transport failure.
func isServerError(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && !keyNotFound(err)
}

// Close closes the owned Redis connection.
func (c *client) Close() error {
	if c.conn == nil {
		return nil
	}
	log.Info("Closing Redis client connection")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Ping tests connectivity to Redis.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if err := conn.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// FlushAll removes all keys in every database of the server.
func (c *client) FlushAll(ctx context.Context) error {
	log.Debug("Flushing all keys in Redis")
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if err := conn.Client.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("redis flushall failed: %w", err)
	}
	return nil
}

// Get retrieves a value. A missing key is returned as Absent with a nil error.
func (c *client) Get(ctx context.Context, key kvprobe.Key) (kvprobe.Result, error) {
	conn, err := c.getConnection()
	if err != nil {
		return kvprobe.Absent(), err
	}
	ba, err := conn.Client.Get(ctx, string(key)).Bytes()
	if keyNotFound(err) {
		return kvprobe.Absent(), nil
	}
	if err != nil {
		return kvprobe.Absent(), fmt.Errorf("redis get failed for key %x: %w", key, err)
	}
	return kvprobe.Present(ba), nil
}

// Set stores value without expiration.
func (c *client) Set(ctx context.Context, key kvprobe.Key, value kvprobe.Value) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	if err := conn.Client.Set(ctx, string(key), []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %x: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key does not exist.
func (c *client) SetNX(ctx context.Context, key kvprobe.Key, value kvprobe.Value) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	ok, err := conn.Client.SetNX(ctx, string(key), []byte(value), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed for key %x: %w", key, err)
	}
	return ok, nil
}

// BatchGet issues one MGET. MGET replies nil for a missing key; mode decides whether
// that becomes Absent or an empty value.
func (c *client) BatchGet(ctx context.Context, keys []kvprobe.Key, mode kvprobe.BatchMode) ([]kvprobe.Result, error) {
	conn, err := c.getConnection()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	ks := make([]string, len(keys))
	for i := range keys {
		ks[i] = string(keys[i])
	}
	vals, err := conn.Client.MGet(ctx, ks...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed for %d keys: %w", len(keys), err)
	}
	if len(vals) != len(keys) {
		return nil, fmt.Errorf("redis mget returned %d values for %d keys", len(vals), len(keys))
	}
	r := make([]kvprobe.Result, len(vals))
	for i, v := range vals {
		switch v := v.(type) {
		case nil:
			if mode == kvprobe.DefaultOnAbsent {
				r[i] = kvprobe.Present(nil)
			} else {
				r[i] = kvprobe.Absent()
			}
		case string:
			r[i] = kvprobe.Present([]byte(v))
		default:
			return nil, fmt.Errorf("redis mget returned unexpected %T at position %d", v, i)
		}
	}
	return r, nil
}

// Expire sets a relative expiration in seconds.
func (c *client) Expire(ctx context.Context, key kvprobe.Key, seconds int) (bool, error) {
	conn, err := c.getConnection()
	if err != nil {
		return false, err
	}
	ok, err := conn.Client.Expire(ctx, string(key), time.Duration(seconds)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire failed for key %x: %w", key, err)
	}
	return ok, nil
}

// TTL returns the remaining seconds, kvprobe.NoExpiry or kvprobe.MissingKey.
func (c *client) TTL(ctx context.Context, key kvprobe.Key) (int64, error) {
	conn, err := c.getConnection()
	if err != nil {
		return 0, err
	}
	d, err := conn.Client.TTL(ctx, string(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl failed for key %x: %w", key, err)
	}
	return ttlSeconds(d), nil
}

// ttlSeconds undoes go-redis' conversion: the -1 and -2 sentinels come back as raw
// nanosecond counts, everything else as a scaled duration.
func ttlSeconds(d time.Duration) int64 {
	if d < 0 {
		return int64(d)
	}
	return int64(d / time.Second)
}

func (c *client) script(s *kvprobe.Script) *redis.Script {
	rs, ok := c.scripts[s.Source]
	if !ok {
		rs = redis.NewScript(s.Source)
		c.scripts[s.Source] = rs
	}
	return rs
}

// LoadScript sends SCRIPT LOAD. A server error reply means the body did not compile.
func (c *client) LoadScript(ctx context.Context, s *kvprobe.Script) error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	sha, err := c.script(s).Load(ctx, conn.Client).Result()
	if err != nil {
		if isServerError(err) {
			return kvprobe.Error{Code: kvprobe.ScriptRejected, Err: err, UserData: s.Name}
		}
		return fmt.Errorf("redis script load failed for %s: %w", s.Name, err)
	}
	log.Debug("Redis script loaded", "script", s.Name, "sha", sha)
	return nil
}

// RunScript runs a script by digest, loading it first if the server lost it.
func (c *client) RunScript(ctx context.Context, s *kvprobe.Script, keys []kvprobe.Key, args ...any) (int64, error) {
	conn, err := c.getConnection()
	if err != nil {
		return 0, err
	}
	n, err := c.script(s).Run(ctx, conn.Client, stringKeys(keys), args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis script %s failed: %w", s.Name, err)
	}
	return n, nil
}

func stringKeys(keys []kvprobe.Key) []string {
	ks := make([]string, len(keys))
	for i := range keys {
		ks[i] = string(keys[i])
	}
	return ks
}

// Batch sends cmds as one pipeline. Scripts go by digest, so they must have been
// loaded with LoadScript beforehand.
func (c *client) Batch(ctx context.Context, cmds []kvprobe.Command) ([]kvprobe.CommandResult, error) {
	conn, err := c.getConnection()
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	pipe := conn.Client.Pipeline()
	queued := make([]redis.Cmder, len(cmds))
	for i, cmd := range cmds {
		k := string(cmd.Key)
		switch cmd.Kind {
		case kvprobe.CmdGet:
			queued[i] = pipe.Get(ctx, k)
		case kvprobe.CmdSet:
			queued[i] = pipe.Set(ctx, k, []byte(cmd.Value), 0)
		case kvprobe.CmdSetNX:
			queued[i] = pipe.SetNX(ctx, k, []byte(cmd.Value), 0)
		case kvprobe.CmdExpire:
			queued[i] = pipe.Expire(ctx, k, time.Duration(cmd.Seconds)*time.Second)
		case kvprobe.CmdTTL:
			queued[i] = pipe.TTL(ctx, k)
		case kvprobe.CmdScript:
			queued[i] = c.script(cmd.Script).EvalSha(ctx, pipe, []string{k}, cmd.Args...)
		default:
			return nil, fmt.Errorf("unsupported pipeline command %v", cmd.Kind)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !keyNotFound(err) && !isServerError(err) {
		return nil, fmt.Errorf("redis pipeline of %d commands failed: %w", len(cmds), err)
	}

	results := make([]kvprobe.CommandResult, len(cmds))
	for i, q := range queued {
		results[i] = pipelineResult(q)
	}
	return results, nil
}

func pipelineResult(q redis.Cmder) kvprobe.CommandResult {
	var r kvprobe.CommandResult
	switch cmd := q.(type) {
	case *redis.StringCmd:
		ba, err := cmd.Bytes()
		switch {
		case keyNotFound(err):
			r.Result = kvprobe.Absent()
		case err != nil:
			r.Err = err
		default:
			r.Result = kvprobe.Present(ba)
		}
	case *redis.StatusCmd:
		r.Err = cmd.Err()
	case *redis.BoolCmd:
		ok, err := cmd.Result()
		if ok {
			r.Int = 1
		}
		r.Err = err
	case *redis.DurationCmd:
		d, err := cmd.Result()
		r.Int, r.Err = ttlSeconds(d), err
	case *redis.Cmd:
		r.Int, r.Err = cmd.Int64()
	default:
		r.Err = fmt.Errorf("unexpected pipeline reply %T", q)
	}
	if r.Err != nil {
		r.Err = fmt.Errorf("redis %s failed: %w", q.Name(), r.Err)
	}
	return r
}

var _ kvprobe.Store = (*client)(nil)
