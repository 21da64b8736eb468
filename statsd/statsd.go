// Package statsd is a helper package that wraps some common statsd methods.
// It hides the datadog dependency so if we decide to migrate away from datadog
// in the future, we only need to edit this single file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// EmitAdvanceStat records the duration of one stage of an advance.
func EmitAdvanceStat(start time.Time, stage string) {
	duration := time.Since(start)
	err := Client().Timing("advance", duration, []string{stage}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit advance stat: %v", err)
	}
}

// EmitReleaseStat records the duration of an epoch release.
func EmitReleaseStat(start time.Time) {
	duration := time.Since(start)
	err := Client().Timing("release", duration, nil, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit release stat: %v", err)
	}
}

// Count emits a simple counter, swallowing emission failures.
func Count(name string, value int64, tags []string) {
	if err := Client().Count(name, value, tags, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit count stat: %v", err)
	}
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("epochal"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return err
	}
	// Success! replace the global client
	client = newClient
	return nil
}
