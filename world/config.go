package world

import (
	"github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"
)

// WorldConfig is loaded from the environment. Integer fields use int so the
// env loader can parse them; they are validated non-negative here.
type WorldConfig struct {
	EpochalNamespace       string
	EpochalPort            string
	EpochalSigner          string
	EpochalSignerAddress   string
	EpochalGenesis         int
	EpochalConfirm         int
	EpochalDeploymentBlock int
	ChainRpcAddress        string
	RedisAddress           string
	RedisPassword          string
	StatsdAddress          string
}

func DefaultWorldConfig() *WorldConfig {
	return &WorldConfig{
		EpochalNamespace: "world",
		EpochalPort:      "4040",
		EpochalConfirm:   DefaultConfirm,
		RedisAddress:     "localhost:6379",
	}
}

// LoadWorldConfig reads the world config from the environment on top of the
// defaults.
func LoadWorldConfig() (*WorldConfig, error) {
	cfg := DefaultWorldConfig()
	if err := config.FromEnv().To(cfg); err != nil {
		return nil, eris.Wrap(err, "failed to load world config")
	}
	return cfg, nil
}

// Validate applies the construction-time config contract: the signer identity
// and a genesis at or past the deployment block are required.
func (c *WorldConfig) Validate() error {
	if c.EpochalSigner == "" {
		return eris.New("a signer alias is required")
	}
	if c.EpochalSignerAddress == "" {
		return eris.New("a signer address is required")
	}
	if c.EpochalGenesis <= 0 {
		return eris.New("a genesis block is required")
	}
	if c.EpochalConfirm < 0 {
		return eris.New("confirmation depth must not be negative")
	}
	if c.EpochalDeploymentBlock > 0 && c.EpochalGenesis < c.EpochalDeploymentBlock {
		return eris.Errorf("genesis block %d is below the deployment block %d",
			c.EpochalGenesis, c.EpochalDeploymentBlock)
	}
	return nil
}
