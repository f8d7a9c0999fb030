package kvprobe

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Batch is an ordered, duplicate-free sequence of tagged keys.
// Its content is fixed at generation; only the order changes.
type Batch []TaggedKey

// GenerateBatch returns existing keys tagged Exists followed by absent keys tagged Missing.
// Every key is a fresh 128-bit random identifier; the batch is checked for duplicates.
// Writing the Exists subset is the caller's job.
func GenerateBatch(ctx context.Context, existing, absent int) (Batch, error) {
	if existing < 0 || absent < 0 {
		return nil, fmt.Errorf("key counts must not be negative: existing=%d absent=%d", existing, absent)
	}
	b := make(Batch, 0, existing+absent)
	seen := make(map[string]struct{}, existing+absent)
	add := func(n int, m Membership) error {
		for i := 0; i < n; i++ {
			k, err := newKey(ctx)
			if err != nil {
				return err
			}
			if _, dup := seen[string(k)]; dup {
				return ErrDuplicateKey
			}
			seen[string(k)] = struct{}{}
			b = append(b, TaggedKey{Key: k, Membership: m})
		}
		return nil
	}
	if err := add(existing, Exists); err != nil {
		return nil, err
	}
	if err := add(absent, Missing); err != nil {
		return nil, err
	}
	return b, nil
}

// NewKeys returns n distinct random keys.
func NewKeys(ctx context.Context, n int) ([]Key, error) {
	b, err := GenerateBatch(ctx, n, 0)
	if err != nil {
		return nil, err
	}
	return b.Keys(), nil
}

// Keys returns the raw keys in current order.
func (b Batch) Keys() []Key {
	keys := make([]Key, len(b))
	for i := range b {
		keys[i] = b[i].Key
	}
	return keys
}

// Existing returns the keys tagged Exists, in current order.
func (b Batch) Existing() []Key {
	var keys []Key
	for i := range b {
		if b[i].Membership == Exists {
			keys = append(keys, b[i].Key)
		}
	}
	return keys
}

// Shuffle permutes the batch in place.
func (b Batch) Shuffle(r *rand.Rand) error {
	if len(b) < 2 {
		return ErrBatchTooSmall
	}
	r.Shuffle(len(b), func(i, j int) {
		b[i], b[j] = b[j], b[i]
	})
	return nil
}

// Fingerprint returns an order-sensitive digest of the batch.
// Each element contributes its membership, its length and its bytes, so two batches
// share a fingerprint only if they hold the same keys in the same order (or collide in xxhash64).
// The value is stable within a process and across runs, but nothing relies on the latter.
func Fingerprint(b Batch) uint64 {
	d := xxhash.New()
	var hdr [1 + binary.MaxVarintLen64]byte
	for i := range b {
		hdr[0] = byte(b[i].Membership)
		n := binary.PutUvarint(hdr[1:], uint64(len(b[i].Key)))
		d.Write(hdr[:1+n])
		d.Write(b[i].Key)
	}
	return d.Sum64()
}

// Reorder shuffles b and returns its new fingerprint. It fails if the shuffle left
// the order unchanged, as judged by comparing against last.
func Reorder(b Batch, r *rand.Rand, last uint64) (uint64, error) {
	if err := b.Shuffle(r); err != nil {
		return last, err
	}
	next := Fingerprint(b)
	if next == last {
		return last, fmt.Errorf("shuffle of %d keys did not change their order", len(b))
	}
	return next, nil
}
