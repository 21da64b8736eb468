// Package redis persists the world's durable surfaces: released epoch
// payloads, the live signal pool, and the drop markers. A world restarted on
// top of the same storage rebuilds to the state it shut down with.
package redis

import (
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Storage struct {
	Namespace string
	Client    *redis.Client
	Log       zerolog.Logger
	PayloadStorage
	PoolStorage
	HistoryStorage
}

type Options = redis.Options

func NewRedisStorage(options Options, namespace string) Storage {
	client := redis.NewClient(&options)
	return Storage{
		Namespace:      namespace,
		Client:         client,
		Log:            zerolog.New(os.Stdout),
		PayloadStorage: NewPayloadStorage(client, namespace),
		PoolStorage:    NewPoolStorage(client, namespace),
		HistoryStorage: NewHistoryStorage(client, namespace),
	}
}

func (r *Storage) Close() error {
	log.Info().Msg("Closing storage connection.")
	if err := r.Client.Close(); err != nil {
		return eris.Wrap(err, "")
	}
	log.Info().Msg("Successfully closed storage connection.")
	return nil
}
