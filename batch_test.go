package kvprobe

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"testing"
)

func TestGenerateBatch(t *testing.T) {
	ctx := context.Background()
	b, err := GenerateBatch(ctx, 300, 200)
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}
	if len(b) != 500 {
		t.Fatalf("expected 500 keys, got %d", len(b))
	}
	seen := map[string]bool{}
	exists, missing := 0, 0
	for i, tk := range b {
		if len(tk.Key) != 16 {
			t.Errorf("key %d has length %d, want 16", i, len(tk.Key))
		}
		if seen[string(tk.Key)] {
			t.Fatalf("duplicate key at %d", i)
		}
		seen[string(tk.Key)] = true
		switch tk.Membership {
		case Exists:
			exists++
		case Missing:
			missing++
		}
	}
	if exists != 300 || missing != 200 {
		t.Errorf("got %d existing and %d missing keys, want 300 and 200", exists, missing)
	}
	if got := len(b.Existing()); got != 300 {
		t.Errorf("Existing returned %d keys, want 300", got)
	}
}

func TestMembershipString(t *testing.T) {
	for m, want := range map[Membership]string{Exists: "exists", Missing: "missing", 0: "unknown"} {
		if got := m.String(); got != want {
			t.Errorf("Membership(%d).String() = %q, want %q", m, got, want)
		}
	}
	// Absent is the Result of a read, not a membership class.
	if Absent().Present {
		t.Error("Absent() must not be present")
	}
}

func TestGenerateBatchRejectsNegativeCounts(t *testing.T) {
	if _, err := GenerateBatch(context.Background(), -1, 3); err == nil {
		t.Error("expected error for negative count")
	}
}

func TestNewKeys(t *testing.T) {
	keys, err := NewKeys(context.Background(), 10)
	if err != nil {
		t.Fatalf("NewKeys failed: %v", err)
	}
	if len(keys) != 10 {
		t.Fatalf("expected 10 keys, got %d", len(keys))
	}
}

func TestFingerprintIsOrderSensitive(t *testing.T) {
	a := Batch{
		{Key: Key{1, 2}, Membership: Exists},
		{Key: Key{3}, Membership: Missing},
	}
	swapped := Batch{a[1], a[0]}
	if Fingerprint(a) == Fingerprint(swapped) {
		t.Error("fingerprint must change when order changes")
	}
	if Fingerprint(a) != Fingerprint(Batch{a[0], a[1]}) {
		t.Error("fingerprint must be deterministic")
	}

	// Same bytes split differently across elements.
	split := Batch{
		{Key: Key{1}, Membership: Exists},
		{Key: Key{2, 3}, Membership: Missing},
	}
	if Fingerprint(a) == Fingerprint(split) {
		t.Error("fingerprint must respect element boundaries")
	}

	// Same key, different membership.
	retagged := Batch{
		{Key: Key{1, 2}, Membership: Missing},
		{Key: Key{3}, Membership: Missing},
	}
	if Fingerprint(a) == Fingerprint(retagged) {
		t.Error("fingerprint must include membership")
	}
}

func TestReorder(t *testing.T) {
	b, err := GenerateBatch(context.Background(), 1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	before := b.Keys()
	r := rand.New(rand.NewPCG(1, 2))
	last := Fingerprint(b)
	for i := 0; i < 100; i++ {
		last, err = Reorder(b, r, last)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	// Content is preserved.
	set := map[string]bool{}
	for _, k := range before {
		set[string(k)] = true
	}
	for _, k := range b.Keys() {
		if !set[string(k)] {
			t.Fatalf("shuffle introduced unknown key %x", k)
		}
	}
}

func TestReorderRejectsTinyBatch(t *testing.T) {
	b := Batch{{Key: Key{0}, Membership: Exists}}
	if _, err := Reorder(b, rand.New(rand.NewPCG(1, 1)), Fingerprint(b)); !errors.Is(err, ErrBatchTooSmall) {
		t.Errorf("expected ErrBatchTooSmall, got %v", err)
	}
}

func TestReorderDetectsUnchangedOrder(t *testing.T) {
	// A two element batch has only two orders; some shuffle leaves it in place.
	b := Batch{
		{Key: Key{0}, Membership: Exists},
		{Key: Key{1}, Membership: Exists},
	}
	r := rand.New(rand.NewPCG(7, 7))
	last := Fingerprint(b)
	for i := 0; i < 64; i++ {
		prev := append(Batch(nil), b...)
		next, err := Reorder(b, r, last)
		if err != nil {
			if !bytes.Equal(prev[0].Key, b[0].Key) {
				t.Fatalf("reported unchanged order but order changed")
			}
			return
		}
		last = next
	}
	t.Fatal("expected at least one unchanged shuffle of a 2-key batch in 64 tries")
}

func TestResultEqual(t *testing.T) {
	if !Present(nil).Equal(Value{}) {
		t.Error("Present(nil) must equal the empty value")
	}
	if Absent().Equal(Value{}) {
		t.Error("Absent must not equal the empty value")
	}
}
