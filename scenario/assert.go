package scenario

import (
	"context"

	"github.com/sharedcode/kvprobe"
)

func expectValue(scenario, what string, got kvprobe.Result, want kvprobe.Value) error {
	if !got.Present {
		return kvprobe.Assertionf(scenario, "%s: expected value %x, key is absent", what, want)
	}
	if !got.Equal(want) {
		return kvprobe.Assertionf(scenario, "%s: expected value %x, got %x", what, want, got.Value)
	}
	return nil
}

func expectAbsent(scenario, what string, got kvprobe.Result) error {
	if got.Present {
		return kvprobe.Assertionf(scenario, "%s: expected absent key, got value %x", what, got.Value)
	}
	return nil
}

func expectNoExpiry(scenario, what string, ttl int64) error {
	if ttl != kvprobe.NoExpiry {
		return kvprobe.Assertionf(scenario, "%s: expected no expiry (%d), got ttl %d", what, kvprobe.NoExpiry, ttl)
	}
	return nil
}

func expectExpiry(scenario, what string, ttl int64) error {
	if ttl <= 0 {
		return kvprobe.Assertionf(scenario, "%s: expected a positive ttl, got %d", what, ttl)
	}
	return nil
}

// getExpect reads key and checks it holds want.
func getExpect(ctx context.Context, env *Env, scenario string, key kvprobe.Key, want kvprobe.Value) error {
	r, err := env.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	return expectValue(scenario, "get", r, want)
}

// ttlExpect reads the TTL of key and checks it against check.
func ttlExpect(ctx context.Context, env *Env, scenario string, key kvprobe.Key, check func(string, string, int64) error) (int64, error) {
	ttl, err := env.Store.TTL(ctx, key)
	if err != nil {
		return 0, err
	}
	return ttl, check(scenario, "ttl", ttl)
}
