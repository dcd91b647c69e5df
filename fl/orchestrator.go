// Package fl drives the federated round protocol: broadcast, local
// training, aggregation, and evaluation until a target accuracy is reached.
package fl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"fedq/aggregate"
	"fedq/dataset"
	"fedq/model"
	"fedq/partition"
	"fedq/quantize"
	"fedq/wire"
)

// Trainer is the external training and evaluation collaborator. Train
// mutates the trainer's parameters in place; Test is read-only.
type Trainer interface {
	Params() *model.Params
	SetParams(p *model.Params) error
	Train(c *dataset.Collection, shard []int, epochs int) (loss, accuracy float64, err error)
	Test(c *dataset.Collection, shard []int) (loss, accuracy float64, err error)
}

// TrainerFactory builds one trainer per participant.
type TrainerFactory func(client int) (Trainer, error)

// Client owns one shard and one local model. Its parameters are overwritten
// by every broadcast and mutated in place by local training.
type Client struct {
	ID      int
	Shard   []int
	Epochs  int
	Trainer Trainer
}

// Orchestrator runs the synchronous round protocol over a fixed client set.
type Orchestrator struct {
	cfg         Config
	train       *dataset.Collection
	test        *dataset.Collection
	coordinator Trainer
	clients     []*Client
	validation  []int
	state       *ExperimentState
	logger      *slog.Logger
}

// New partitions the training collection and constructs all participants.
// The coordinator's parameters are the freshly initialized model; no
// broadcast happens before the first round of local training.
func New(cfg Config, train, test *dataset.Collection, coordinator Trainer, factory TrainerFactory, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	res, err := partition.Split(train, partition.Options{
		Clients:            cfg.Clients,
		Mode:               cfg.Mode,
		MixFraction:        cfg.MixFraction,
		ValidationFraction: cfg.ValidationFraction,
		NumClasses:         cfg.NumClasses,
		Seed:               cfg.Seed,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("fl: partitioning: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		train:       train,
		test:        test,
		coordinator: coordinator,
		validation:  res.Validation,
		state:       &ExperimentState{},
		logger:      logger,
	}
	for i, shard := range res.Clients {
		trainer, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("fl: building client %d: %w", i, err)
		}
		o.clients = append(o.clients, &Client{
			ID:      i,
			Shard:   shard,
			Epochs:  cfg.clientEpochs(i),
			Trainer: trainer,
		})
		logger.Info("client ready",
			slog.Int("client", i),
			slog.Int("shard_size", len(shard)),
			slog.Int("epochs", cfg.clientEpochs(i)))
	}
	return o, nil
}

// State returns the accumulated experiment record.
func (o *Orchestrator) State() *ExperimentState {
	return o.state
}

// Run executes rounds until the target accuracy is reached or the round
// budget expires. The returned state is valid even on error.
func (o *Orchestrator) Run(ctx context.Context) (*ExperimentState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return o.state, err
		}
		round := o.state.NumRounds + 1
		o.logger.Info("communication round", slog.Int("round", round))
		stats := &RoundStats{}

		if round > 1 {
			start := time.Now()
			if err := o.broadcast(round); err != nil {
				return o.state, fmt.Errorf("fl: round %d broadcast: %w", round, err)
			}
			stats.BroadcastTime = time.Since(start)
		}

		start := time.Now()
		if err := o.localTrain(ctx, round); err != nil {
			return o.state, fmt.Errorf("fl: round %d local training: %w", round, err)
		}
		stats.TrainTime = time.Since(start)

		start = time.Now()
		if err := o.aggregateRound(round); err != nil {
			// incompatible or missing updates leave no usable aggregate;
			// abort instead of installing garbage
			return o.state, fmt.Errorf("fl: round %d aggregation: %w", round, err)
		}
		stats.AggregateTime = time.Since(start)

		start = time.Now()
		accuracy, err := o.evaluate(round)
		if err != nil {
			return o.state, fmt.Errorf("fl: round %d evaluation: %w", round, err)
		}
		stats.EvaluateTime = time.Since(start)

		o.logger.Info("round complete",
			slog.Int("round", round),
			slog.Float64("test_accuracy", accuracy),
			slog.Any("timing", stats))

		if accuracy >= o.cfg.TargetAccuracy {
			o.logger.Info("target accuracy reached",
				slog.Int("rounds", o.state.NumRounds),
				slog.Float64("accuracy", accuracy))
			return o.state, nil
		}
		if round >= o.cfg.MaxRounds {
			o.logger.Warn("round budget exhausted before target accuracy",
				slog.Int("rounds", round),
				slog.Float64("accuracy", accuracy),
				slog.Float64("target", o.cfg.TargetAccuracy))
			return o.state, nil
		}
	}
}

// broadcast quantizes the coordinator model, accounts its size, and installs
// the decoded full-precision copy on every client. Clients always train on
// the decoded copy; quantization applies to the transfer only.
func (o *Orchestrator) broadcast(round int) error {
	params := o.coordinator.Params()
	original, err := wire.SizeInBits(params)
	if err != nil {
		return err
	}
	payload, err := quantize.Encode(params, o.cfg.Scheme)
	if err != nil {
		return err
	}
	transferred, err := wire.SizeInBits(payload)
	if err != nil {
		return err
	}
	o.state.recordBroadcast(original, transferred)

	var buf bytes.Buffer
	proto := wire.NewProtocol(&buf, &buf)
	if err := proto.SendBroadcast(round, payload); err != nil {
		return err
	}
	received, err := proto.ReceiveBroadcast()
	if err != nil {
		return err
	}
	decoded, err := quantize.Decode(received.Model)
	if err != nil {
		return err
	}
	for _, cl := range o.clients {
		if err := cl.Trainer.SetParams(decoded.Clone()); err != nil {
			return fmt.Errorf("installing broadcast on client %d: %w", cl.ID, err)
		}
	}
	return nil
}

// localTrain runs every client's local update for the round. All clients
// start from the same broadcast snapshot; aggregation waits for all of them.
func (o *Orchestrator) localTrain(ctx context.Context, round int) error {
	if !o.cfg.Parallel {
		for _, cl := range o.clients {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.trainClient(cl, round); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, cl := range o.clients {
		cl := cl
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return o.trainClient(cl, round)
		})
	}
	// a failed client aborts the whole round rather than averaging a
	// partial set of updates
	return g.Wait()
}

func (o *Orchestrator) trainClient(cl *Client, round int) error {
	loss, accuracy, err := cl.Trainer.Train(o.train, cl.Shard, cl.Epochs)
	if err != nil {
		return fmt.Errorf("client %d: %w", cl.ID, err)
	}
	o.logger.Info("client trained",
		slog.Int("round", round),
		slog.Int("client", cl.ID),
		slog.Float64("loss", loss),
		slog.Float64("train_accuracy", accuracy))
	return nil
}

// aggregateRound quantizes every client update, accounts the client
// direction, averages the decoded updates, and installs the result on the
// coordinator. The client-direction totals multiply the per-client sizes
// rather than summing them.
func (o *Orchestrator) aggregateRound(round int) error {
	original := big.NewInt(1)
	transferred := big.NewInt(1)

	var buf bytes.Buffer
	proto := wire.NewProtocol(&buf, &buf)

	decoded := make([]*model.Params, 0, len(o.clients))
	for _, cl := range o.clients {
		params := cl.Trainer.Params()
		bits, err := wire.SizeInBits(params)
		if err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		original.Mul(original, big.NewInt(bits))

		payload, err := quantize.Encode(params, o.cfg.Scheme)
		if err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		qbits, err := wire.SizeInBits(payload)
		if err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		transferred.Mul(transferred, big.NewInt(qbits))

		if err := proto.SendUpdate(round, cl.ID, payload); err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		update, err := proto.ReceiveUpdate()
		if err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		dec, err := quantize.Decode(update.Model)
		if err != nil {
			return fmt.Errorf("client %d: %w", cl.ID, err)
		}
		decoded = append(decoded, dec)
	}
	o.state.recordUpdates(original, transferred)

	averaged, err := aggregate.Average(decoded)
	if err != nil {
		return err
	}
	return o.coordinator.SetParams(averaged)
}

// evaluate tests the coordinator model on the held-out test collection and
// advances the round counter. When a validation carve-out exists it is
// scored as well, for logging only; termination follows the test accuracy.
func (o *Orchestrator) evaluate(round int) (float64, error) {
	if len(o.validation) > 0 {
		vloss, vaccuracy, err := o.coordinator.Test(o.train, o.validation)
		if err != nil {
			return 0, fmt.Errorf("validation: %w", err)
		}
		o.logger.Info("validation",
			slog.Int("round", round),
			slog.Float64("loss", vloss),
			slog.Float64("accuracy", vaccuracy))
	}
	loss, accuracy, err := o.coordinator.Test(o.test, nil)
	if err != nil {
		return 0, err
	}
	o.logger.Info("coordinator evaluated",
		slog.Int("round", round),
		slog.Float64("test_loss", loss),
		slog.Float64("test_accuracy", accuracy))
	o.state.TestAccuracies = append(o.state.TestAccuracies, accuracy)
	o.state.NumRounds = round
	return accuracy, nil
}
