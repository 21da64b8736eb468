package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/codec"
	"pkg.world.dev/epochal/epoch"
)

// HistoryStorage keeps the ordered list of released epoch payload headers.
// The payload bytes themselves live in PayloadStorage.
type HistoryStorage struct {
	Client    *redis.Client
	Namespace string
}

func NewHistoryStorage(client *redis.Client, namespace string) HistoryStorage {
	return HistoryStorage{
		Client:    client,
		Namespace: namespace,
	}
}

func (r *HistoryStorage) AppendHistory(ctx context.Context, p *epoch.Payload) error {
	bz, err := codec.Encode(p)
	if err != nil {
		return err
	}
	return eris.Wrap(r.Client.RPush(ctx, r.historyKey(), bz).Err(), "")
}

func (r *HistoryStorage) History(ctx context.Context) ([]*epoch.Payload, error) {
	entries, err := r.Client.LRange(ctx, r.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	history := make([]*epoch.Payload, 0, len(entries))
	for i, raw := range entries {
		p, err := codec.Decode[epoch.Payload]([]byte(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "stored history entry %d is corrupt", i)
		}
		history = append(history, &p)
	}
	return history, nil
}

func (r *HistoryStorage) historyKey() string {
	return fmt.Sprintf("%s:HISTORY", r.Namespace)
}
