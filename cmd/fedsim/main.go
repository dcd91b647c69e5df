// fedsim: single-process federated round simulator
//
// Usage:
//
//	fedsim -config=experiment.toml -dataset=mnist -full
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"fedq/dataset"
	"fedq/fl"
	"fedq/mlp"
	"fedq/model"
)

const pathEnv = ".env"

var (
	configPath  = flag.String("config", "experiment.toml", "Experiment configuration file (TOML)")
	datasetKind = flag.String("dataset", "mnist", "Dataset: mnist, synthetic")
	full        = flag.Bool("full", false, "Use the full dataset instead of the first 5000 samples")
	outputDir   = flag.String("out", "outputs", "Directory for experiment state and model output")
	saveModel   = flag.Bool("save-model", false, "Save the final coordinator weights")
	samples     = flag.Int("samples", 2000, "Number of synthetic samples")
	inputDim    = flag.Int("input", 784, "Input dimension")
	hidden      = flag.Int("hidden", 30, "Hidden layer size")
)

type envConfig struct {
	LogLevel string `env:"FEDQ_LOG_LEVEL" envDefault:"info"`
	DataDir  string `env:"FEDQ_DATA_DIR"  envDefault:"./data"`
}

func main() {
	flag.Parse()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}
	ec := envConfig{}
	if err := env.Parse(&ec); err != nil {
		log.Fatalf("failed to load environment configuration: %s", err.Error())
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(ec.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	runID := uuid.NewString()
	logger.Info("starting federated simulation", slog.String("run_id", runID))

	cfg, err := fl.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load experiment config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg.NumClasses = dataset.NumClasses

	train, test, err := loadData(ec.DataDir)
	if err != nil {
		logger.Error("failed to load dataset", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("dataset loaded",
		slog.String("dataset", *datasetKind),
		slog.Int("train_samples", train.Len()),
		slog.Int("test_samples", test.Len()))

	mlpConfig := mlp.Config{
		InputDim:     *inputDim,
		HiddenDims:   []int{*hidden},
		OutputDim:    dataset.NumClasses,
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
		Seed:         cfg.Seed,
	}
	coordinator, err := mlp.New(mlpConfig)
	if err != nil {
		logger.Error("failed to build coordinator model", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orch, err := fl.New(cfg, train, test, coordinator, func(client int) (fl.Trainer, error) {
		c := mlpConfig
		c.Seed = cfg.Seed + int64(client) + 1
		return mlp.New(c)
	}, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	state, runErr := orch.Run(ctx)
	if runErr != nil {
		logger.Error("run aborted", slog.String("error", runErr.Error()))
	}

	// persist whatever was accumulated, even on an aborted run
	if err := os.MkdirAll(*outputDir, os.ModePerm); err != nil {
		logger.Error("failed to create output directory", slog.String("error", err.Error()))
		os.Exit(1)
	}
	statePath := filepath.Join(*outputDir, fl.StateFileName(cfg))
	if err := state.Save(statePath); err != nil {
		logger.Error("failed to save experiment state", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("experiment state saved", slog.String("path", statePath))

	if *saveModel {
		modelPath := filepath.Join(*outputDir, fmt.Sprintf("model_%s.json", runID))
		if err := model.SaveWeights(modelPath, coordinator.Params()); err != nil {
			logger.Error("failed to save model weights", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("model weights saved", slog.String("path", modelPath))
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func loadData(dataDir string) (*dataset.Collection, *dataset.Collection, error) {
	switch *datasetKind {
	case "mnist":
		return dataset.LoadMNIST(dataDir, *inputDim, *full)
	case "synthetic":
		rng := rand.New(rand.NewSource(1))
		train := dataset.Synthetic(*samples, *inputDim, dataset.NumClasses, rng)
		test := dataset.Synthetic(*samples/5, *inputDim, dataset.NumClasses, rng)
		return train, test, nil
	default:
		return nil, nil, fmt.Errorf("unknown dataset %q", *datasetKind)
	}
}
