// Package kvprobe defines the data model, store contract and input generators of a
// correctness probe for a networked key-value store. The probe drives a live store
// through a fixed, ordered sequence of scenarios and fails fast on the first observed
// divergence from the store's documented command semantics.
//
// Concrete backends live in subpackages: redis (go-redis adapter) and inmemory (an
// in-process store with the same semantics, used by tests and dry runs). The conditional
// TTL protocol lives in ttl, and the scenarios themselves in scenario.
//
// # Ordering checks
//
// The batched-read ordering scenarios generate a batch of random 128-bit keys, shuffle
// it, and query the store in the shuffled order. A shuffle can in principle leave the
// order unchanged, which would make an iteration prove nothing. Fingerprint gives each
// order a digest so that Reorder can turn that silent false pass into an error.
// Batches smaller than 2 cannot be reordered and are rejected.
package kvprobe
