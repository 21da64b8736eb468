package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/signal"
	"pkg.world.dev/epochal/world"
)

// PoolStorage mirrors the live signal pool: every admitted signal by uuid,
// plus the drop markers of the current epoch. It is cleared on release and
// read back on restart.
type PoolStorage struct {
	Client    *redis.Client
	Namespace string
}

func NewPoolStorage(client *redis.Client, namespace string) PoolStorage {
	return PoolStorage{
		Client:    client,
		Namespace: namespace,
	}
}

func (r *PoolStorage) SaveSignal(ctx context.Context, s *signal.Signal) error {
	bz, err := codec.Encode(s)
	if err != nil {
		return err
	}
	return eris.Wrap(r.Client.HSet(ctx, r.signalsKey(), s.UUID, bz).Err(), "")
}

func (r *PoolStorage) RemoveSignals(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	return eris.Wrap(r.Client.HDel(ctx, r.signalsKey(), uuids...).Err(), "")
}

func (r *PoolStorage) Signals(ctx context.Context) ([]*signal.Signal, error) {
	entries, err := r.Client.HGetAll(ctx, r.signalsKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	signals := make([]*signal.Signal, 0, len(entries))
	for uuid, raw := range entries {
		s, err := codec.Decode[signal.Signal]([]byte(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "stored signal %q is corrupt", uuid)
		}
		signals = append(signals, &s)
	}
	return signals, nil
}

func (r *PoolStorage) MarkDropped(ctx context.Context, uuid string, block uint64) error {
	return eris.Wrap(r.Client.HSet(ctx, r.droppedKey(), uuid, strconv.FormatUint(block, 10)).Err(), "")
}

func (r *PoolStorage) Dropped(ctx context.Context) (map[string]uint64, error) {
	entries, err := r.Client.HGetAll(ctx, r.droppedKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	dropped := make(map[string]uint64, len(entries))
	for uuid, raw := range entries {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "stored drop marker %q is corrupt", uuid)
		}
		dropped[uuid] = block
	}
	return dropped, nil
}

// ClearPool discards the stored signals and drop markers. Called after a
// release, which starts the successor epoch with empty pools.
func (r *PoolStorage) ClearPool(ctx context.Context) error {
	return eris.Wrap(r.Client.Del(ctx, r.signalsKey(), r.droppedKey()).Err(), "")
}

// Current adapts the stored signals to the world's rebuild collaborator.
func (r *PoolStorage) Current() world.CurrentFunc {
	return func(ctx context.Context) ([]*signal.Signal, error) {
		return r.Signals(ctx)
	}
}

func (r *PoolStorage) signalsKey() string {
	return fmt.Sprintf("%s:SIGNALS", r.Namespace)
}

func (r *PoolStorage) droppedKey() string {
	return fmt.Sprintf("%s:DROPPED", r.Namespace)
}
