// Command epochald runs a world as a daemon: it rebuilds from redis-backed
// history, follows the chain through an RPC endpoint, and serves the HTTP and
// websocket surfaces.
package main

import (
	"context"
	"math/big"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/epochal/clock"
	"pkg.world.dev/epochal/epoch"
	"pkg.world.dev/epochal/events"
	"pkg.world.dev/epochal/server"
	"pkg.world.dev/epochal/statsd"
	storage "pkg.world.dev/epochal/storage/redis"
	"pkg.world.dev/epochal/world"
)

func main() {
	cfg, err := world.LoadWorldConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}

	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, []string{"namespace:" + cfg.EpochalNamespace}); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize metrics")
		}
	}

	store := storage.NewRedisStorage(storage.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	}, cfg.EpochalNamespace)

	opts := []world.WorldOption{
		world.WithTorrentData(store.Fetcher()),
		world.WithReleaseSink(makeReleaseSink(&store)),
	}
	if cfg.ChainRpcAddress != "" {
		client, err := ethclient.Dial(cfg.ChainRpcAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to dial the chain RPC endpoint")
		}
		opts = append(opts,
			world.WithHead(client.BlockNumber),
			world.WithGetBlock(makeGetBlock(client)),
		)
	} else {
		log.Warn().Msg("No chain RPC endpoint configured; only explicit-target advances will work.")
	}

	hub := events.NewHub()
	opts = append(opts, world.WithHooks(makeHooks(hub, &store)))

	w, err := world.NewWorld(cfg, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}

	ctx := context.Background()
	history, err := store.History(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load epoch history")
	}
	if err := w.Build(ctx, history, store.Current()); err != nil {
		log.Fatal().Err(err).Msg("failed to rebuild the world")
	}

	srv := server.New(w,
		server.WithPort(cfg.EpochalPort),
		server.WithHub(hub),
	)
	handleShutdown(srv, &store)
	if err := srv.Serve(); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

// makeGetBlock adapts the chain RPC client to the clock's block fetcher.
func makeGetBlock(client *ethclient.Client) clock.GetBlockFunc {
	return func(ctx context.Context, n uint64) (clock.Block, error) {
		header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return clock.Block{}, err
		}
		return clock.Block{
			Number:    n,
			Hash:      header.Hash(),
			Timestamp: header.Time,
		}, nil
	}
}

// makeReleaseSink persists a sealed epoch: payload bytes, history entry, and
// a pool reset for the successor. The world only commits the release after
// this succeeds.
func makeReleaseSink(store *storage.Storage) world.ReleaseFunc {
	return func(ctx context.Context, sealed *epoch.Epoch) error {
		p, err := sealed.Payload()
		if err != nil {
			return err
		}
		bz, err := p.Bytes()
		if err != nil {
			return err
		}
		if err := store.SetPayload(ctx, p.ID(), bz); err != nil {
			return err
		}
		if err := store.AppendHistory(ctx, p); err != nil {
			return err
		}
		return store.ClearPool(ctx)
	}
}

// makeHooks forwards world events to the hub and mirrors the live pool into
// storage so a restart rebuilds to the same state.
func makeHooks(hub *events.Hub, store *storage.Storage) world.Hooks {
	hooks := events.WorldHooks(hub)

	receiveToHub := hooks.OnReceive
	hooks.OnReceive = func(ev world.ReceiveEvent, w *world.World) {
		receiveToHub(ev, w)
		if err := store.SaveSignal(context.Background(), ev.Signal); err != nil {
			log.Error().Err(err).Msg("failed to persist received signal")
		}
	}

	dropToHub := hooks.OnDrop
	hooks.OnDrop = func(ev world.DropEvent, w *world.World) {
		dropToHub(ev, w)
		ctx := context.Background()
		for _, s := range ev.Signals {
			if err := store.SaveSignal(ctx, s); err != nil {
				log.Error().Err(err).Msg("failed to persist dropped signal")
				continue
			}
			if err := store.MarkDropped(ctx, s.UUID, ev.Position); err != nil {
				log.Error().Err(err).Msg("failed to persist drop marker")
			}
		}
	}

	return hooks
}

func handleShutdown(srv *server.Server, store *storage.Storage) {
	signalChannel := make(chan os.Signal, 1)
	go func() {
		ossignal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
		for sig := range signalChannel {
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				if err := srv.Shutdown(); err != nil {
					log.Error().Err(err).Msg("there was an error during shutdown")
				}
				if err := store.Close(); err != nil {
					log.Error().Err(err).Msg("there was an error closing storage")
				}
				return
			}
		}
	}()
}
