// Package ttl implements the rule "apply an expiry to a key only if its value is empty"
// in two encodings with different guarantees.
//
// ScriptForm runs the check and the EXPIRE inside one server-side script, so no other
// client can change the key between them. BatchForm pipelines SETNX and EXPIRE: both
// travel in one round trip but each runs on its own, and EXPIRE is applied even when
// SETNX was rejected because the key already held a non-empty value. That weaker
// behavior is intended and the probe asserts it.
package ttl

import (
	"context"
	"fmt"

	log "log/slog"

	"github.com/sharedcode/kvprobe"
)

// SetTTLIfEmpty expires KEYS[1] after ARGV[1] seconds if it exists and holds the empty
// value. It returns 1 when the expiry was applied and 0 otherwise.
var SetTTLIfEmpty = kvprobe.NewScript("set-ttl-if-empty", `
if redis.call("EXISTS", KEYS[1]) == 1 then
  local payload = redis.call("GET", KEYS[1])
  if payload == "" then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
    return 1
  end
end
return 0
`)

// Form is one encoding of "conditionally set value, then conditionally set a TTL".
type Form interface {
	Name() string
	// Commands returns the pipeline entries for one key.
	Commands(key kvprobe.Key, value kvprobe.Value, seconds int) []kvprobe.Command
}

// ScriptForm pairs SETNX with the atomic SetTTLIfEmpty script.
type ScriptForm struct{}

func (ScriptForm) Name() string { return "script" }

func (ScriptForm) Commands(key kvprobe.Key, value kvprobe.Value, seconds int) []kvprobe.Command {
	return []kvprobe.Command{
		kvprobe.SetNXCmd(key, value),
		kvprobe.ScriptCmd(SetTTLIfEmpty, key, seconds),
	}
}

// BatchForm pairs SETNX with an unconditional EXPIRE.
type BatchForm struct{}

func (BatchForm) Name() string { return "batch" }

func (BatchForm) Commands(key kvprobe.Key, value kvprobe.Value, seconds int) []kvprobe.Command {
	return []kvprobe.Command{
		kvprobe.SetNXCmd(key, value),
		kvprobe.ExpireCmd(key, seconds),
	}
}

// Prepare loads SetTTLIfEmpty. A rejected body comes back as a ScriptRejected error,
// which is a setup fault rather than an assertion failure.
func Prepare(ctx context.Context, store kvprobe.Store) error {
	if err := store.LoadScript(ctx, SetTTLIfEmpty); err != nil {
		return kvprobe.Setup(err)
	}
	log.Debug("conditional TTL script ready", "script", SetTTLIfEmpty.Name)
	return nil
}

func checkKey(key kvprobe.Key) error {
	if len(key) == 0 {
		return kvprobe.Error{Code: kvprobe.InvalidKey, Err: kvprobe.ErrEmptyKey}
	}
	return nil
}

// ExpireIfEmpty runs SetTTLIfEmpty on key alone and reports whether the expiry was applied.
func ExpireIfEmpty(ctx context.Context, store kvprobe.Store, key kvprobe.Key, seconds int) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	n, err := store.RunScript(ctx, SetTTLIfEmpty, []kvprobe.Key{key}, seconds)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Apply sends form's commands for every key in a single batch, each key's pair adjacent.
// It validates all keys before touching the store.
func Apply(ctx context.Context, store kvprobe.Store, form Form, keys []kvprobe.Key, value kvprobe.Value, seconds int) error {
	cmds := make([]kvprobe.Command, 0, 2*len(keys))
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return err
		}
		cmds = append(cmds, form.Commands(k, value, seconds)...)
	}
	log.Debug("applying conditional TTL", "form", form.Name(), "keys", len(keys), "seconds", seconds)
	res, err := store.Batch(ctx, cmds)
	if err != nil {
		return err
	}
	if err := kvprobe.FirstError(res); err != nil {
		return fmt.Errorf("%s form: %w", form.Name(), err)
	}
	return nil
}
