package scenario

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sharedcode/kvprobe"
	"github.com/sharedcode/kvprobe/inmemory"
	"github.com/sharedcode/kvprobe/ttl"
)

func smallConfig() kvprobe.ScenarioConfig {
	return kvprobe.ScenarioConfig{
		DenseKeys: 200,
		Existing:  100,
		Absent:    100,
		Shuffles:  10,
		BulkKeys:  50,
		Seed:      1,
	}
}

func newMemoryStore() *inmemory.Store {
	s := inmemory.NewStore()
	ttl.Emulate(s)
	return s
}

func run(t *testing.T, store kvprobe.Store) (string, []Timing, error) {
	t.Helper()
	var out bytes.Buffer
	cfg := smallConfig()
	e := NewEngine(store, &out, cfg.Seed)
	timings, err := e.Run(context.Background(), Default(cfg))
	return out.String(), timings, err
}

// lastHeader returns the name in the last "===== NAME =====" line of a transcript.
func lastHeader(transcript string) string {
	var last string
	for _, line := range strings.Split(transcript, "\n") {
		if strings.HasPrefix(line, "===== ") && line != "===== CLEAR STORE =====" {
			last = strings.TrimSuffix(strings.TrimPrefix(line, "===== "), " =====")
		}
	}
	return last
}

func TestDefaultScenariosPassOnConformingStore(t *testing.T) {
	out, timings, err := run(t, newMemoryStore())
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	scenarios := Default(smallConfig())
	flushes := 0
	for _, s := range scenarios {
		if s.Flush {
			flushes++
		}
		if !strings.Contains(out, "===== "+s.Name+" =====") {
			t.Errorf("transcript is missing header %q", s.Name)
		}
	}
	if len(timings) != len(scenarios)+flushes {
		t.Errorf("got %d timings, want %d", len(timings), len(scenarios)+flushes)
	}
	if got := strings.Count(out, "Took "); got != len(timings) {
		t.Errorf("got %d elapsed lines, want %d", got, len(timings))
	}
	for _, note := range []string{"No TTL = -1", "The TTL set by LUA is 5", "Not the correct way to query"} {
		if !strings.Contains(out, note) {
			t.Errorf("transcript is missing note %q", note)
		}
	}
}

func TestScenarioOrderIsFixed(t *testing.T) {
	want := []string{
		BinarySafety, EmptyValue, DenseOrdering, OptionalOrdering, DefaultOrdering,
		Overwrite, ConditionalSet, BatchFormTTL, ScriptFormTTL,
		BulkBatchForm, BulkScriptEmpty, BulkScriptNonEmpty,
	}
	got := Default(smallConfig())
	if len(got) != len(want) {
		t.Fatalf("got %d scenarios, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("scenario %d = %q, want %q", i, got[i].Name, want[i])
		}
	}
}

// reversingStore returns batched reads in reverse order.
type reversingStore struct {
	kvprobe.Store
}

func (s reversingStore) BatchGet(ctx context.Context, keys []kvprobe.Key, mode kvprobe.BatchMode) ([]kvprobe.Result, error) {
	r, err := s.Store.BatchGet(ctx, keys, mode)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return r, err
}

// overwritingStore treats SETNX as SET.
type overwritingStore struct {
	kvprobe.Store
}

func (s overwritingStore) SetNX(ctx context.Context, key kvprobe.Key, value kvprobe.Value) (bool, error) {
	return true, s.Store.Set(ctx, key, value)
}

// unconditionalScriptStore expires keys whenever the conditional TTL script runs,
// as if the script skipped its emptiness check.
type unconditionalScriptStore struct {
	kvprobe.Store
}

func (s unconditionalScriptStore) RunScript(ctx context.Context, script *kvprobe.Script, keys []kvprobe.Key, args ...any) (int64, error) {
	ok, err := s.Store.Expire(ctx, keys[0], args[0].(int))
	if ok {
		return 1, err
	}
	return 0, err
}

func (s unconditionalScriptStore) Batch(ctx context.Context, cmds []kvprobe.Command) ([]kvprobe.CommandResult, error) {
	rewritten := make([]kvprobe.Command, len(cmds))
	for i, c := range cmds {
		if c.Kind == kvprobe.CmdScript {
			c = kvprobe.ExpireCmd(c.Key, c.Args[0].(int))
		}
		rewritten[i] = c
	}
	return s.Store.Batch(ctx, rewritten)
}

// emptyKeyStore drops writes to the empty key.
type emptyKeyStore struct {
	kvprobe.Store
}

func (s emptyKeyStore) Set(ctx context.Context, key kvprobe.Key, value kvprobe.Value) error {
	if len(key) == 0 {
		return nil
	}
	return s.Store.Set(ctx, key, value)
}

// optionalOnlyStore ignores the requested mode and never substitutes the empty value.
type optionalOnlyStore struct {
	kvprobe.Store
}

func (s optionalOnlyStore) BatchGet(ctx context.Context, keys []kvprobe.Key, mode kvprobe.BatchMode) ([]kvprobe.Result, error) {
	return s.Store.BatchGet(ctx, keys, kvprobe.OptionalOnAbsent)
}

func TestContractViolationsFailFast(t *testing.T) {
	tests := []struct {
		name     string
		store    kvprobe.Store
		failedAt string
	}{
		{"empty key not stored", emptyKeyStore{newMemoryStore()}, BinarySafety},
		{"reordered mget", reversingStore{newMemoryStore()}, DenseOrdering},
		{"default mode without substitution", optionalOnlyStore{newMemoryStore()}, DefaultOrdering},
		{"setnx overwrites", overwritingStore{newMemoryStore()}, ConditionalSet},
		{"script ignores value", unconditionalScriptStore{newMemoryStore()}, ScriptFormTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, timings, err := run(t, tt.store)
			if err == nil {
				t.Fatalf("expected failure at %q", tt.failedAt)
			}
			if !kvprobe.IsAssertion(err) {
				t.Fatalf("expected an assertion failure, got %v", err)
			}
			if got := lastHeader(out); got != tt.failedAt {
				t.Errorf("last header = %q, want %q", got, tt.failedAt)
			}
			if timings[len(timings)-1].Name != tt.failedAt {
				t.Errorf("last timing = %q, want %q", timings[len(timings)-1].Name, tt.failedAt)
			}
		})
	}
}

func TestBulkScriptNonEmptyDetectsUnconditionalTTL(t *testing.T) {
	cfg := smallConfig()
	var s Scenario
	for _, sc := range Default(cfg) {
		if sc.Name == BulkScriptNonEmpty {
			s = sc
		}
	}
	var out bytes.Buffer
	e := NewEngine(unconditionalScriptStore{newMemoryStore()}, &out, 1)
	_, err := e.Run(context.Background(), []Scenario{s})
	if !kvprobe.IsAssertion(err) {
		t.Fatalf("expected assertion failure, got %v", err)
	}
}

func TestRejectedScriptIsSetupFailure(t *testing.T) {
	// No emulation registered: loading the script fails like a compile error.
	out, _, err := run(t, inmemory.NewStore())
	if kvprobe.CodeOf(err) != kvprobe.ScriptRejected {
		t.Fatalf("expected ScriptRejected, got %v", err)
	}
	if kvprobe.IsAssertion(err) {
		t.Error("a rejected script must not be reported as an assertion failure")
	}
	if got := lastHeader(out); got != ScriptFormTTL {
		t.Errorf("last header = %q, want %q", got, ScriptFormTTL)
	}
}

// unreachableStore fails every flush.
type unreachableStore struct {
	kvprobe.Store
}

func (unreachableStore) FlushAll(ctx context.Context) error {
	return errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

func TestStoreErrorsAreSetupFailures(t *testing.T) {
	out, timings, err := run(t, unreachableStore{newMemoryStore()})
	if kvprobe.CodeOf(err) != kvprobe.SetupFailure {
		t.Fatalf("expected SetupFailure, got %v", err)
	}
	if len(timings) != 1 || strings.Contains(out, "Took") {
		t.Errorf("run must stop at the first flush; timings=%d transcript=%q", len(timings), out)
	}
}

func TestSeedReproducesShuffles(t *testing.T) {
	a := NewEngine(newMemoryStore(), &bytes.Buffer{}, 99)
	b := NewEngine(newMemoryStore(), &bytes.Buffer{}, 99)
	for i := 0; i < 10; i++ {
		if a.rng.Uint64() != b.rng.Uint64() {
			t.Fatal("same seed must yield the same shuffle sequence")
		}
	}
	if NewEngine(newMemoryStore(), &bytes.Buffer{}, 0).Seed() == 0 {
		t.Error("a zero seed must be replaced by a random one")
	}
}
