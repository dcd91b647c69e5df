// Package mlp implements the local training and evaluation collaborator:
// a plain multilayer perceptron trained with per-sample SGD.
package mlp

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"fedq/dataset"
	"fedq/model"
	"fedq/tensor"
)

// Config holds the network architecture and training hyperparameters.
type Config struct {
	InputDim     int
	HiddenDims   []int
	OutputDim    int
	LearningRate float64
	BatchSize    int
	Activator    string
	Seed         int64
}

// Network is a fully-connected feed-forward net. weights[i] maps layer i to
// layer i+1 as an (out × in) matrix applied to column vectors.
type Network struct {
	cfg       config
	weights   []*mat.Dense
	activator Activator
}

type config struct {
	dims         []int
	learningRate float64
	batchSize    int
}

// New builds a network with randomly initialized weights.
func New(cfg Config) (*Network, error) {
	if cfg.InputDim <= 0 || cfg.OutputDim <= 0 {
		return nil, fmt.Errorf("mlp: input and output dims must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("mlp: batch size must be positive")
	}
	name := cfg.Activator
	if name == "" {
		name = "sigmoid"
	}
	activator, ok := ActivatorLookup[name]
	if !ok {
		return nil, fmt.Errorf("mlp: invalid activator %q", name)
	}

	dims := append([]int{cfg.InputDim}, cfg.HiddenDims...)
	dims = append(dims, cfg.OutputDim)

	rng := rand.New(rand.NewSource(cfg.Seed))
	net := &Network{
		cfg: config{
			dims:         dims,
			learningRate: cfg.LearningRate,
			batchSize:    cfg.BatchSize,
		},
		weights:   make([]*mat.Dense, len(dims)-1),
		activator: activator,
	}
	for i := range net.weights {
		rows, cols := dims[i+1], dims[i]
		net.weights[i] = mat.NewDense(rows, cols, randomArray(rng, rows*cols, float64(cols)))
	}
	return net, nil
}

// Params exports the network weights as a parameter mapping. Tensors share
// no storage with the network.
func (net *Network) Params() *model.Params {
	p := model.NewParams()
	for i, w := range net.weights {
		rows, cols := w.Dims()
		t := tensor.New(rows, cols)
		copy(t.Data, w.RawMatrix().Data)
		p.Set(fmt.Sprintf("layer%d.weight", i), t)
	}
	return p
}

// SetParams overwrites the network weights from a parameter mapping with
// the layout produced by Params.
func (net *Network) SetParams(p *model.Params) error {
	if err := model.Compatible(net.Params(), p); err != nil {
		return err
	}
	for i, w := range net.weights {
		t, ok := p.Get(fmt.Sprintf("layer%d.weight", i))
		if !ok {
			return fmt.Errorf("%w: missing layer%d.weight", model.ErrShapeMismatch, i)
		}
		copy(w.RawMatrix().Data, t.Data)
	}
	return nil
}

// Train runs SGD over the shard for the given epoch count and returns the
// last epoch's average loss and the post-training shard accuracy (percent).
func (net *Network) Train(c *dataset.Collection, shard []int, epochs int) (float64, float64, error) {
	if len(shard) == 0 {
		return 0, 0, fmt.Errorf("mlp: empty training shard")
	}
	var loss float64
	for epoch := 1; epoch <= epochs; epoch++ {
		loss = 0
		for _, batch := range createBatches(shard, net.cfg.batchSize) {
			for _, idx := range batch {
				sample := c.Sample(idx)
				loss += net.trainOneSGD(sample.Input.Data, sample.Label)
			}
		}
		loss /= float64(len(shard))
	}
	_, accuracy, err := net.Test(c, shard)
	if err != nil {
		return 0, 0, err
	}
	return loss, accuracy, nil
}

// Test evaluates the network on the shard without mutating weights and
// returns average loss and accuracy in percent. A nil shard means the whole
// collection.
func (net *Network) Test(c *dataset.Collection, shard []int) (float64, float64, error) {
	if shard == nil {
		shard = c.AllIndices()
	}
	if len(shard) == 0 {
		return 0, 0, fmt.Errorf("mlp: empty evaluation shard")
	}
	var loss float64
	var correct float64
	for _, idx := range shard {
		sample := c.Sample(idx)
		layers := net.feedForward(sample.Input.Data)
		out := layers[len(layers)-1]
		loss += sampleLoss(out, sample.Label)
		if argmax(out) == sample.Label {
			correct++
		}
	}
	total := float64(len(shard))
	return loss / total, 100 * (correct / total), nil
}

// Predict returns the class index with the highest output activation.
func (net *Network) Predict(input *tensor.Tensor) int {
	layers := net.feedForward(input.Data)
	return argmax(layers[len(layers)-1])
}

func (net *Network) feedForward(inputData []float64) []mat.Matrix {
	layers := make([]mat.Matrix, len(net.cfg.dims))
	layers[0] = mat.NewDense(len(inputData), 1, inputData)
	for i := range net.weights {
		weightedSum := dot(net.weights[i], layers[i])
		layers[i+1] = apply(net.activator.Activate, weightedSum)
	}
	return layers
}

func (net *Network) trainOneSGD(inputData []float64, label int) float64 {
	layers := net.feedForward(inputData)
	last := len(layers) - 1

	targets := mat.NewDense(net.cfg.dims[last], 1, oneHot(net.cfg.dims[last], label))
	errs := make([]mat.Matrix, len(layers))
	errs[last] = subtract(targets, layers[last])
	for i := last - 1; i > 0; i-- {
		errs[i] = dot(net.weights[i].T(), errs[i+1])
	}

	for i := last; i > 0; i-- {
		gradients := multiply(errs[i], net.activator.Deactivate(layers[i]))
		weightUpdate := scale(net.cfg.learningRate, dot(gradients, layers[i-1].T()))
		net.weights[i-1] = add(net.weights[i-1], weightUpdate).(*mat.Dense)
	}

	out := layers[last]
	return sampleLoss(out, label)
}

func createBatches(shard []int, batchSize int) [][]int {
	numBatches := (len(shard) + batchSize - 1) / batchSize
	batches := make([][]int, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(shard) {
			end = len(shard)
		}
		batches = append(batches, shard[start:end])
	}
	return batches
}

// oneHot encodes a label the same way the CSV loader scales targets,
// 0.99 for the class and 0.01 elsewhere.
func oneHot(n, label int) []float64 {
	targets := make([]float64, n)
	for i := range targets {
		targets[i] = 0.01
	}
	targets[label] = 0.99
	return targets
}

func sampleLoss(out mat.Matrix, label int) float64 {
	rows, _ := out.Dims()
	loss := 0.0
	for i := 0; i < rows; i++ {
		target := 0.01
		if i == label {
			target = 0.99
		}
		d := out.At(i, 0) - target
		loss += d * d
	}
	return loss
}

func argmax(out mat.Matrix) int {
	rows, _ := out.Dims()
	best := 0
	highest := out.At(0, 0)
	for i := 1; i < rows; i++ {
		if out.At(i, 0) > highest {
			best = i
			highest = out.At(i, 0)
		}
	}
	return best
}
