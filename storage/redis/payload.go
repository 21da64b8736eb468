package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"pkg.world.dev/epochal/epoch"
)

var ErrNoPayloadFound = errors.New("no epoch payload found")

// PayloadStorage stores the serialized bytes of released epochs, keyed by
// epoch ID. It is the torrent-data backing for replay.
type PayloadStorage struct {
	Client    *redis.Client
	Namespace string
}

func NewPayloadStorage(client *redis.Client, namespace string) PayloadStorage {
	return PayloadStorage{
		Client:    client,
		Namespace: namespace,
	}
}

func (r *PayloadStorage) SetPayload(ctx context.Context, ref string, data []byte) error {
	return eris.Wrap(r.Client.Set(ctx, r.payloadKey(ref), data, 0).Err(), "")
}

func (r *PayloadStorage) GetPayload(ctx context.Context, ref string) ([]byte, error) {
	data, err := r.Client.Get(ctx, r.payloadKey(ref)).Bytes()
	if eris.Is(err, redis.Nil) {
		return nil, eris.Wrap(ErrNoPayloadFound, ref)
	} else if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return data, nil
}

// Fetcher adapts the payload store to the world's torrent-data collaborator.
func (r *PayloadStorage) Fetcher() epoch.FetchFunc {
	return func(ctx context.Context, ref string) ([]byte, error) {
		return r.GetPayload(ctx, ref)
	}
}

func (r *PayloadStorage) payloadKey(ref string) string {
	return fmt.Sprintf("%s:EPOCH-DATA:%s", r.Namespace, ref)
}
