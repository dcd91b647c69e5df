package fl

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"fedq/partition"
	"fedq/quantize"
)

// Config is the immutable run configuration handed to the orchestrator at
// construction time.
type Config struct {
	Clients int
	// LocalEpochs is the default per-client epoch count; EpochsPerClient
	// overrides it per client when non-empty (len must equal Clients).
	LocalEpochs        int
	EpochsPerClient    []int
	BatchSize          int
	LearningRate       float64
	Mode               partition.Mode
	MixFraction        float64
	ValidationFraction float64
	NumClasses         int
	Scheme             quantize.Scheme
	// TargetAccuracy is in percent; rounds stop once the coordinator's test
	// accuracy reaches it.
	TargetAccuracy float64
	// MaxRounds bounds the run when the target is unreachable.
	MaxRounds int
	// Parallel trains clients concurrently within a round. All clients
	// still start from the same broadcast snapshot and aggregation waits
	// for every update.
	Parallel bool
	Seed     int64
}

func (c Config) validate() error {
	if c.Clients < 1 {
		return fmt.Errorf("fl: client count must be positive, got %d", c.Clients)
	}
	if len(c.EpochsPerClient) > 0 && len(c.EpochsPerClient) != c.Clients {
		return fmt.Errorf("fl: epochs_per_client has %d entries for %d clients", len(c.EpochsPerClient), c.Clients)
	}
	if len(c.EpochsPerClient) == 0 && c.LocalEpochs < 1 {
		return fmt.Errorf("fl: local epoch count must be positive, got %d", c.LocalEpochs)
	}
	if c.TargetAccuracy <= 0 {
		return fmt.Errorf("fl: target accuracy must be positive, got %f", c.TargetAccuracy)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("fl: max rounds must be positive, got %d", c.MaxRounds)
	}
	return nil
}

// clientEpochs resolves the epoch count for client i.
func (c Config) clientEpochs(i int) int {
	if len(c.EpochsPerClient) > 0 {
		return c.EpochsPerClient[i]
	}
	return c.LocalEpochs
}

// fileConfig is the TOML shape of an experiment configuration file.
type fileConfig struct {
	Clients            int     `toml:"clients"`
	LocalEpochs        int     `toml:"local_epochs"`
	EpochsPerClient    []int64 `toml:"epochs_per_client"`
	BatchSize          int     `toml:"batch_size"`
	LearningRate       float64 `toml:"learning_rate"`
	Split              string  `toml:"split"`
	MixFraction        float64 `toml:"mix_fraction"`
	ValidationFraction float64 `toml:"validation_fraction"`
	Quantization       string  `toml:"quantization"`
	TargetAccuracy     float64 `toml:"target_accuracy"`
	MaxRounds          int     `toml:"max_rounds"`
	Parallel           bool    `toml:"parallel"`
	Seed               int64   `toml:"seed"`
}

// LoadConfig reads an experiment configuration from a TOML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	tree, err := toml.Load(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file: %w", err)
	}
	var fc fileConfig
	if err := tree.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := Config{
		Clients:            fc.Clients,
		LocalEpochs:        fc.LocalEpochs,
		BatchSize:          fc.BatchSize,
		LearningRate:       fc.LearningRate,
		MixFraction:        fc.MixFraction,
		ValidationFraction: fc.ValidationFraction,
		TargetAccuracy:     fc.TargetAccuracy,
		MaxRounds:          fc.MaxRounds,
		Parallel:           fc.Parallel,
		Seed:               fc.Seed,
	}
	for _, e := range fc.EpochsPerClient {
		cfg.EpochsPerClient = append(cfg.EpochsPerClient, int(e))
	}

	switch fc.Split {
	case "iid", "":
		cfg.Mode = partition.IID
	case "noniid":
		cfg.Mode = partition.NonIID
	default:
		return Config{}, fmt.Errorf("fl: unknown split %q", fc.Split)
	}

	cfg.Scheme, err = quantize.ParseScheme(fc.Quantization)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
