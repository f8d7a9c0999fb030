package kvprobe

import "bytes"

// Key is an opaque, binary-safe byte sequence. It may contain any byte, including zero.
type Key = []byte

// Value is an opaque, binary-safe byte sequence. The empty value is a legal value
// and is not the same thing as an absent key.
type Value = []byte

// Membership tells whether a generated key is written to the store before querying.
type Membership byte

const (
	// Exists marks a key that the scenario writes (with itself as the value).
	Exists Membership = iota + 1
	// Missing marks a key that is never written.
	Missing
)

func (m Membership) String() string {
	switch m {
	case Exists:
		return "exists"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// TaggedKey is a Key annotated with its membership class. The tag is only used to
// verify query results and is never sent to the store.
type TaggedKey struct {
	Key        Key
	Membership Membership
}

// Result is the outcome of reading one key: either Present with a value, or Absent.
type Result struct {
	Value   Value
	Present bool
}

// Present returns a Result holding v.
func Present(v Value) Result {
	if v == nil {
		v = Value{}
	}
	return Result{Value: v, Present: true}
}

// Absent returns the Result for a key that does not exist.
func Absent() Result {
	return Result{}
}

// Equal reports whether r is present and holds exactly v.
func (r Result) Equal(v Value) bool {
	return r.Present && bytes.Equal(r.Value, v)
}

// BatchMode selects how a batched read reports keys that do not exist.
type BatchMode int

const (
	// OptionalOnAbsent returns Absent() for every missing key.
	OptionalOnAbsent BatchMode = iota
	// DefaultOnAbsent substitutes Present(empty) for every missing key.
	// A missing key and a key holding the empty value cannot be told apart in this mode.
	DefaultOnAbsent
)

func (m BatchMode) String() string {
	if m == DefaultOnAbsent {
		return "default-on-absent"
	}
	return "optional-on-absent"
}

// TTL query sentinels.
const (
	// NoExpiry is returned by TTL for a key that exists without an expiration.
	NoExpiry int64 = -1
	// MissingKey is returned by TTL for a key that does not exist.
	MissingKey int64 = -2
)
