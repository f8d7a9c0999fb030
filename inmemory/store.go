// Package inmemory provides an in-process kvprobe.Store with the command semantics of
// a Redis server: binary-safe keys and values, relative expiries, conditional set,
// pipelines that run command by command, and server-side scripts backed by Go functions.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "log/slog"

	"github.com/sharedcode/kvprobe"
)

type item struct {
	data       []byte
	expiration time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiration.IsZero() && !now.Before(it.expiration)
}

// ScriptFunc emulates a server-side script. It runs with the store locked, so it is
// atomic with respect to every other operation on the store.
type ScriptFunc func(tx *Tx, keys []kvprobe.Key, args []any) (int64, error)

// Store is an in-memory kvprobe.Store. The zero value is not usable; call NewStore.
type Store struct {
	mu      sync.Mutex
	items   map[string]item
	scripts map[string]ScriptFunc
	loaded  map[string]bool
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		items:   make(map[string]item),
		scripts: make(map[string]ScriptFunc),
		loaded:  make(map[string]bool),
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests use it to move past expiries.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RegisterScript binds a script body to its Go emulation. Loading a script body that
// was never registered fails the way a compile error does on a real server.
func (s *Store) RegisterScript(source string, fn ScriptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[source] = fn
}

// Tx is the view of the store given to a ScriptFunc.
type Tx struct {
	s   *Store
	now time.Time
}

// Get returns the value of key, if present.
func (tx *Tx) Get(key kvprobe.Key) (kvprobe.Value, bool) {
	it, ok := tx.s.lookup(key, tx.now)
	return it.data, ok
}

// Exists reports whether key is present.
func (tx *Tx) Exists(key kvprobe.Key) bool {
	_, ok := tx.s.lookup(key, tx.now)
	return ok
}

// Expire sets a relative expiry on key.
func (tx *Tx) Expire(key kvprobe.Key, seconds int) bool {
	return tx.s.expire(key, seconds, tx.now)
}

// lookup drops expired items lazily. Callers hold mu.
func (s *Store) lookup(key kvprobe.Key, now time.Time) (item, bool) {
	it, ok := s.items[string(key)]
	if !ok {
		return item{}, false
	}
	if it.expired(now) {
		delete(s.items, string(key))
		return item{}, false
	}
	return it, true
}

func (s *Store) set(key kvprobe.Key, value kvprobe.Value) {
	data := make([]byte, len(value))
	copy(data, value)
	s.items[string(key)] = item{data: data}
}

func (s *Store) setNX(key kvprobe.Key, value kvprobe.Value, now time.Time) bool {
	if _, ok := s.lookup(key, now); ok {
		return false
	}
	s.set(key, value)
	return true
}

func (s *Store) expire(key kvprobe.Key, seconds int, now time.Time) bool {
	it, ok := s.lookup(key, now)
	if !ok {
		return false
	}
	if seconds <= 0 {
		delete(s.items, string(key))
		return true
	}
	it.expiration = now.Add(time.Duration(seconds) * time.Second)
	s.items[string(key)] = it
	return true
}

func (s *Store) ttl(key kvprobe.Key, now time.Time) int64 {
	it, ok := s.lookup(key, now)
	if !ok {
		return kvprobe.MissingKey
	}
	if it.expiration.IsZero() {
		return kvprobe.NoExpiry
	}
	// Round to the nearest second like the server does.
	return int64((it.expiration.Sub(now) + 500*time.Millisecond) / time.Second)
}

func (s *Store) get(key kvprobe.Key, now time.Time) kvprobe.Result {
	it, ok := s.lookup(key, now)
	if !ok {
		return kvprobe.Absent()
	}
	v := make([]byte, len(it.data))
	copy(v, it.data)
	return kvprobe.Present(v)
}

func (s *Store) runScript(script *kvprobe.Script, keys []kvprobe.Key, args []any, now time.Time) (int64, error) {
	if !s.loaded[script.Source] {
		return 0, fmt.Errorf("NOSCRIPT script %q is not loaded", script.Name)
	}
	return s.scripts[script.Source](&Tx{s: s, now: now}, keys, args)
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Get reads key.
func (s *Store) Get(ctx context.Context, key kvprobe.Key) (kvprobe.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key, s.now()), nil
}

// Set writes key and clears its expiry.
func (s *Store) Set(ctx context.Context, key kvprobe.Key, value kvprobe.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
	return nil
}

// SetNX writes key only when it is absent.
func (s *Store) SetNX(ctx context.Context, key kvprobe.Key, value kvprobe.Value) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setNX(key, value, s.now()), nil
}

// BatchGet reads keys in order.
func (s *Store) BatchGet(ctx context.Context, keys []kvprobe.Key, mode kvprobe.BatchMode) ([]kvprobe.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r := make([]kvprobe.Result, len(keys))
	for i, k := range keys {
		r[i] = s.get(k, now)
		if !r[i].Present && mode == kvprobe.DefaultOnAbsent {
			r[i] = kvprobe.Present(nil)
		}
	}
	return r, nil
}

// Expire sets a relative expiry on key.
func (s *Store) Expire(ctx context.Context, key kvprobe.Key, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expire(key, seconds, s.now()), nil
}

// TTL returns the remaining seconds of key.
func (s *Store) TTL(ctx context.Context, key kvprobe.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl(key, s.now()), nil
}

// LoadScript marks a registered script as loaded.
func (s *Store) LoadScript(ctx context.Context, script *kvprobe.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scripts[script.Source]; !ok {
		return kvprobe.Error{
			Code:     kvprobe.ScriptRejected,
			Err:      fmt.Errorf("ERR Error compiling script %q", script.Name),
			UserData: script.Name,
		}
	}
	s.loaded[script.Source] = true
	log.Debug("script loaded", "script", script.Name)
	return nil
}

// RunScript executes a loaded script under the store lock.
func (s *Store) RunScript(ctx context.Context, script *kvprobe.Script, keys []kvprobe.Key, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runScript(script, keys, args, s.now())
}

// Batch runs cmds one by one. The lock is released between commands, so a batch is
// not atomic, matching a pipeline on a real server.
func (s *Store) Batch(ctx context.Context, cmds []kvprobe.Command) ([]kvprobe.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]kvprobe.CommandResult, len(cmds))
	for i, c := range cmds {
		results[i] = s.exec(c)
	}
	return results, nil
}

func (s *Store) exec(c kvprobe.Command) kvprobe.CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var r kvprobe.CommandResult
	switch c.Kind {
	case kvprobe.CmdGet:
		r.Result = s.get(c.Key, now)
	case kvprobe.CmdSet:
		s.set(c.Key, c.Value)
	case kvprobe.CmdSetNX:
		r.Int = boolToInt(s.setNX(c.Key, c.Value, now))
	case kvprobe.CmdExpire:
		r.Int = boolToInt(s.expire(c.Key, c.Seconds, now))
	case kvprobe.CmdTTL:
		r.Int = s.ttl(c.Key, now)
	case kvprobe.CmdScript:
		r.Int, r.Err = s.runScript(c.Script, []kvprobe.Key{c.Key}, c.Args, now)
	default:
		r.Err = fmt.Errorf("unsupported command %v", c.Kind)
	}
	return r
}

// FlushAll removes every key. Loaded scripts survive, as on a real server.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]item)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, it := range s.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

var _ kvprobe.Store = (*Store)(nil)
