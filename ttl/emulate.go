package ttl

import (
	"fmt"

	"github.com/sharedcode/kvprobe"
	"github.com/sharedcode/kvprobe/inmemory"
)

// Emulate registers a Go rendition of SetTTLIfEmpty with an in-memory store, so the
// script form can run without a Lua interpreter.
func Emulate(s *inmemory.Store) {
	s.RegisterScript(SetTTLIfEmpty.Source, setTTLIfEmpty)
}

func setTTLIfEmpty(tx *inmemory.Tx, keys []kvprobe.Key, args []any) (int64, error) {
	if len(keys) != 1 || len(args) != 1 {
		return 0, fmt.Errorf("%s expects 1 key and 1 argument, got %d and %d", SetTTLIfEmpty.Name, len(keys), len(args))
	}
	seconds, ok := args[0].(int)
	if !ok {
		return 0, fmt.Errorf("%s expects an int TTL, got %T", SetTTLIfEmpty.Name, args[0])
	}
	v, found := tx.Get(keys[0])
	if !found || len(v) != 0 {
		return 0, nil
	}
	tx.Expire(keys[0], seconds)
	return 1, nil
}
