package kvprobe

import (
	"context"
	"time"

	log "log/slog"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// newKey returns the 16 raw bytes of a random v4 UUID.
// Reading from the system entropy source rarely fails; when it does, generation is
// retried with a 1ms constant backoff up to 10 times.
func newKey(ctx context.Context) (Key, error) {
	var id uuid.UUID
	b := retry.WithMaxRetries(10, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		id, err = uuid.NewRandom()
		if err != nil {
			log.Debug("uuid generation failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	k := make(Key, len(id))
	copy(k, id[:])
	return k, nil
}
