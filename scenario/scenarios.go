package scenario

import (
	"context"
	"fmt"

	"github.com/sharedcode/kvprobe"
	"github.com/sharedcode/kvprobe/ttl"
)

// Scenario names, in run order.
const (
	BinarySafety       = "A KEY AND A VALUE MAY BOTH BE BINARY"
	EmptyValue         = "SET STORES KEYS WITHOUT A VALUE"
	DenseOrdering      = "MGET RETURNS VALUES IN THE ORDER THEY WERE QUERIED"
	OptionalOrdering   = "MGET RETURNS VALUES IN THE ORDER THEY WERE QUERIED INCLUDING NONEXISTING KEYS (OPTIONAL RESULTS)"
	DefaultOrdering    = "MGET RETURNS VALUES IN THE ORDER THEY WERE QUERIED INCLUDING NONEXISTING KEYS (EMPTY VALUE WHERE ABSENT)"
	Overwrite          = "SET DOES OVERWRITE A VALUE"
	ConditionalSet     = "SETNX DOES NOT OVERWRITE A VALUE"
	BatchFormTTL       = "PIPELINE: SETNX THEN EXPIRE WILL SET A TTL ON AN EXISTING VALUE"
	ScriptFormTTL      = "A LUA SCRIPT CAN CONDITIONALLY SET A TTL"
	BulkBatchForm      = "PIPELINE: SET TTL ON MANY KEYS WITH SETNX AND EXPIRE"
	BulkScriptEmpty    = "PIPELINE: SET TTL ON MANY KEYS WITH SETNX AND LUA (ON EMPTY VALUES, ADDS TTL)"
	BulkScriptNonEmpty = "PIPELINE: SET TTL ON MANY KEYS WITH SETNX AND LUA (ON NON EMPTY VALUES, DOES NOT ADD TTL)"
)

const (
	batchFormTTLSeconds = 20
	scriptTTLSeconds    = 5
)

// Default returns the probe's scenarios in their fixed order, sized by cfg.
func Default(cfg kvprobe.ScenarioConfig) []Scenario {
	return []Scenario{
		{Name: BinarySafety, Flush: true, Run: binarySafety},
		{Name: EmptyValue, Flush: true, Run: emptyValue},
		{
			Name:  DenseOrdering,
			Notes: []string{fmt.Sprintf("%d keys %d times", cfg.DenseKeys, cfg.Shuffles)},
			Flush: true,
			Run:   ordering(DenseOrdering, cfg.DenseKeys, 0, cfg.Shuffles, kvprobe.OptionalOnAbsent),
		},
		{
			Name:  OptionalOrdering,
			Notes: []string{fmt.Sprintf("%d existing and %d non existing keys %d times", cfg.Existing, cfg.Absent, cfg.Shuffles)},
			Flush: true,
			Run:   ordering(OptionalOrdering, cfg.Existing, cfg.Absent, cfg.Shuffles, kvprobe.OptionalOnAbsent),
		},
		{
			Name: DefaultOrdering,
			Notes: []string{
				"Not the correct way to query: an absent key and a key holding the empty value look the same in this mode",
				fmt.Sprintf("%d existing and %d non existing keys %d times", cfg.Existing, cfg.Absent, cfg.Shuffles),
			},
			Flush: true,
			Run:   ordering(DefaultOrdering, cfg.Existing, cfg.Absent, cfg.Shuffles, kvprobe.DefaultOnAbsent),
		},
		{Name: Overwrite, Flush: true, Run: overwrite},
		{Name: ConditionalSet, Flush: true, Run: conditionalSet},
		{
			Name:  BatchFormTTL,
			Notes: []string{fmt.Sprintf("No TTL = %d", kvprobe.NoExpiry)},
			Flush: true,
			Run:   batchFormTTL,
		},
		{
			// Runs on the key left with a TTL by the previous scenario; its first SET clears it.
			Name:  ScriptFormTTL,
			Notes: []string{"A LUA script is atomic: https://redis.io/commands/eval#atomicity-of-scripts"},
			Run:   scriptFormTTL,
		},
		{
			Name:  BulkBatchForm,
			Notes: []string{fmt.Sprintf("%d keys", cfg.BulkKeys)},
			Flush: true,
			Run:   bulk(BulkBatchForm, cfg.BulkKeys, ttl.BatchForm{}, kvprobe.Value{}, expectExpiry),
		},
		{
			Name:  BulkScriptEmpty,
			Notes: []string{fmt.Sprintf("%d keys", cfg.BulkKeys)},
			Flush: true,
			Run:   bulk(BulkScriptEmpty, cfg.BulkKeys, ttl.ScriptForm{}, kvprobe.Value{}, expectExpiry),
		},
		{
			Name:  BulkScriptNonEmpty,
			Notes: []string{fmt.Sprintf("%d keys", cfg.BulkKeys)},
			Flush: true,
			Run:   bulk(BulkScriptNonEmpty, cfg.BulkKeys, ttl.ScriptForm{}, kvprobe.Value{1}, expectNoExpiry),
		},
	}
}

func binarySafety(ctx context.Context, env *Env) error {
	k := kvprobe.Key{0}
	v := kvprobe.Value{1}
	if err := env.Store.Set(ctx, k, v); err != nil {
		return err
	}
	if err := getExpect(ctx, env, BinarySafety, k, v); err != nil {
		return err
	}

	// Every byte value, in a key and in a value.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	rev := make([]byte, 256)
	for i := range rev {
		rev[i] = byte(255 - i)
	}
	if err := env.Store.Set(ctx, all, rev); err != nil {
		return err
	}
	if err := getExpect(ctx, env, BinarySafety, all, rev); err != nil {
		return err
	}

	// The empty key is a key like any other.
	empty := kvprobe.Key{}
	if err := env.Store.Set(ctx, empty, v); err != nil {
		return err
	}
	return getExpect(ctx, env, BinarySafety, empty, v)
}

func emptyValue(ctx context.Context, env *Env) error {
	k := kvprobe.Key("key")
	if err := env.Store.Set(ctx, k, kvprobe.Value{}); err != nil {
		return err
	}
	return getExpect(ctx, env, EmptyValue, k, kvprobe.Value{})
}

// writeSelf stores every key with itself as the value, in one round trip.
func writeSelf(ctx context.Context, store kvprobe.Store, keys []kvprobe.Key) error {
	cmds := make([]kvprobe.Command, len(keys))
	for i, k := range keys {
		cmds[i] = kvprobe.SetCmd(k, k)
	}
	res, err := store.Batch(ctx, cmds)
	if err != nil {
		return err
	}
	return kvprobe.FirstError(res)
}

// ordering writes the existing keys of a fresh batch, then shuffles the batch and
// queries it with one batched read per shuffle, checking every position.
func ordering(name string, existing, absent, shuffles int, mode kvprobe.BatchMode) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		b, err := kvprobe.GenerateBatch(ctx, existing, absent)
		if err != nil {
			return err
		}
		if err := writeSelf(ctx, env.Store, b.Existing()); err != nil {
			return err
		}

		last := kvprobe.Fingerprint(b)
		for i := 0; i < shuffles; i++ {
			last, err = kvprobe.Reorder(b, env.Rand, last)
			if err != nil {
				return kvprobe.Assertionf(name, "iteration %d: %w", i, err)
			}
			results, err := env.Store.BatchGet(ctx, b.Keys(), mode)
			if err != nil {
				return err
			}
			if len(results) != len(b) {
				return kvprobe.Assertionf(name, "iteration %d: queried %d keys, got %d results", i, len(b), len(results))
			}
			for pos := range b {
				if err := checkPosition(name, b[pos], results[pos], mode); err != nil {
					return fmt.Errorf("iteration %d position %d: %w", i, pos, err)
				}
			}
		}
		return nil
	}
}

// checkPosition compares one batched-read result with the key's membership class.
// Existing keys hold their own bytes; absent keys are Absent, or the empty value
// when mode substitutes one.
func checkPosition(name string, tk kvprobe.TaggedKey, r kvprobe.Result, mode kvprobe.BatchMode) error {
	if tk.Membership == kvprobe.Exists {
		return expectValue(name, "existing key", r, tk.Key)
	}
	if mode == kvprobe.DefaultOnAbsent {
		return expectValue(name, "absent key", r, kvprobe.Value{})
	}
	return expectAbsent(name, "absent key", r)
}

func overwrite(ctx context.Context, env *Env) error {
	k, v1, v2 := kvprobe.Key{0}, kvprobe.Value{1}, kvprobe.Value{2}
	if err := env.Store.Set(ctx, k, v1); err != nil {
		return err
	}
	if err := getExpect(ctx, env, Overwrite, k, v1); err != nil {
		return err
	}
	if err := env.Store.Set(ctx, k, v2); err != nil {
		return err
	}
	return getExpect(ctx, env, Overwrite, k, v2)
}

func conditionalSet(ctx context.Context, env *Env) error {
	k, v1, v2 := kvprobe.Key{0}, kvprobe.Value{1}, kvprobe.Value{2}
	if err := env.Store.Set(ctx, k, v1); err != nil {
		return err
	}
	if err := getExpect(ctx, env, ConditionalSet, k, v1); err != nil {
		return err
	}
	written, err := env.Store.SetNX(ctx, k, v2)
	if err != nil {
		return err
	}
	if written {
		return kvprobe.Assertionf(ConditionalSet, "setnx reported a write over an existing value")
	}
	return getExpect(ctx, env, ConditionalSet, k, v1)
}

// batchFormTTL shows that the pipelined form applies the TTL even though its SETNX
// was rejected. This is the documented, weaker behavior of the batch form.
func batchFormTTL(ctx context.Context, env *Env) error {
	k, v1, v2 := kvprobe.Key{0}, kvprobe.Value{1}, kvprobe.Value{2}
	if err := env.Store.Set(ctx, k, v1); err != nil {
		return err
	}
	if err := getExpect(ctx, env, BatchFormTTL, k, v1); err != nil {
		return err
	}
	if _, err := ttlExpect(ctx, env, BatchFormTTL, k, expectNoExpiry); err != nil {
		return err
	}
	if err := ttl.Apply(ctx, env.Store, ttl.BatchForm{}, []kvprobe.Key{k}, v2, batchFormTTLSeconds); err != nil {
		return err
	}
	if err := getExpect(ctx, env, BatchFormTTL, k, v1); err != nil {
		return err
	}
	_, err := ttlExpect(ctx, env, BatchFormTTL, k, expectExpiry)
	return err
}

func scriptFormTTL(ctx context.Context, env *Env) error {
	if err := ttl.Prepare(ctx, env.Store); err != nil {
		return err
	}
	k, v1, empty := kvprobe.Key{0}, kvprobe.Value{1}, kvprobe.Value{}
	if err := env.Store.Set(ctx, k, v1); err != nil {
		return err
	}
	if err := getExpect(ctx, env, ScriptFormTTL, k, v1); err != nil {
		return err
	}
	if _, err := ttlExpect(ctx, env, ScriptFormTTL, k, expectNoExpiry); err != nil {
		return err
	}

	// Non-empty value: the script leaves the key alone.
	if _, err := ttl.ExpireIfEmpty(ctx, env.Store, k, scriptTTLSeconds); err != nil {
		return err
	}
	if _, err := ttlExpect(ctx, env, ScriptFormTTL, k, expectNoExpiry); err != nil {
		return err
	}

	// Empty value: the script sets the TTL.
	if err := env.Store.Set(ctx, k, empty); err != nil {
		return err
	}
	if _, err := ttl.ExpireIfEmpty(ctx, env.Store, k, scriptTTLSeconds); err != nil {
		return err
	}
	got, err := env.Store.TTL(ctx, k)
	if err != nil {
		return err
	}
	if err := getExpect(ctx, env, ScriptFormTTL, k, empty); err != nil {
		return err
	}
	env.Printf("The TTL set by LUA is %d", got)
	return expectExpiry(ScriptFormTTL, "ttl", got)
}

// bulk conditionally sets value on n fresh keys with form, then reads every key's
// value and TTL back in one round trip. Values must equal value; TTLs must pass check.
func bulk(name string, n int, form ttl.Form, value kvprobe.Value, check func(string, string, int64) error) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		if _, ok := form.(ttl.ScriptForm); ok {
			if err := ttl.Prepare(ctx, env.Store); err != nil {
				return err
			}
		}
		keys, err := kvprobe.NewKeys(ctx, n)
		if err != nil {
			return err
		}
		if err := ttl.Apply(ctx, env.Store, form, keys, value, batchFormTTLSeconds); err != nil {
			return err
		}

		cmds := make([]kvprobe.Command, 0, 2*len(keys))
		for _, k := range keys {
			cmds = append(cmds, kvprobe.GetCmd(k), kvprobe.TTLCmd(k))
		}
		res, err := env.Store.Batch(ctx, cmds)
		if err != nil {
			return err
		}
		if err := kvprobe.FirstError(res); err != nil {
			return err
		}
		for i := range keys {
			what := fmt.Sprintf("key %d", i)
			if err := expectValue(name, what, res[2*i].Result, value); err != nil {
				return err
			}
			if err := check(name, what+" ttl", res[2*i+1].Int); err != nil {
				return err
			}
		}
		return nil
	}
}
