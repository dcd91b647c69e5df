package mlp

import (
	"testing"

	"fedq/dataset"
	"fedq/model"
	"fedq/tensor"
)

func toyCollection() *dataset.Collection {
	// two well-separated patterns per class
	samples := []dataset.Sample{
		{Input: tensor.NewWithData([]float64{1, 0}), Label: 0},
		{Input: tensor.NewWithData([]float64{0.9, 0.1}), Label: 0},
		{Input: tensor.NewWithData([]float64{0, 1}), Label: 1},
		{Input: tensor.NewWithData([]float64{0.1, 0.9}), Label: 1},
	}
	return dataset.NewCollection(samples)
}

func toyConfig() Config {
	return Config{
		InputDim:     2,
		HiddenDims:   []int{6},
		OutputDim:    2,
		LearningRate: 0.5,
		BatchSize:    2,
		Seed:         42,
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{InputDim: 0, OutputDim: 2, BatchSize: 1}); err == nil {
		t.Error("expected error for zero input dim")
	}
	if _, err := New(Config{InputDim: 2, OutputDim: 2, BatchSize: 0}); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := New(Config{InputDim: 2, OutputDim: 2, BatchSize: 1, Activator: "step"}); err == nil {
		t.Error("expected error for unknown activator")
	}
}

func TestParamsRoundTrip(t *testing.T) {
	net, err := New(toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	p := net.Params()
	if p.Len() != 2 {
		t.Fatalf("params len = %d, want 2 layers", p.Len())
	}
	w0, ok := p.Get("layer0.weight")
	if !ok {
		t.Fatal("layer0.weight missing")
	}
	if w0.Shape[0] != 6 || w0.Shape[1] != 2 {
		t.Fatalf("layer0 shape = %v, want [6 2]", w0.Shape)
	}

	// push modified params back and read them out again
	for i := range w0.Data {
		w0.Data[i] = float64(i) * 0.1
	}
	if err := net.SetParams(p); err != nil {
		t.Fatal(err)
	}
	got, _ := net.Params().Get("layer0.weight")
	for i := range w0.Data {
		if got.Data[i] != w0.Data[i] {
			t.Fatalf("weight[%d] = %f, want %f", i, got.Data[i], w0.Data[i])
		}
	}
}

func TestSetParamsRejectsIncompatible(t *testing.T) {
	net, err := New(toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	bad := model.NewParams()
	bad.Set("layer0.weight", tensor.New(3, 3))
	if err := net.SetParams(bad); err == nil {
		t.Error("expected error for incompatible params")
	}
}

func TestDeterministicInit(t *testing.T) {
	a, _ := New(toyConfig())
	b, _ := New(toyConfig())
	pa, _ := a.Params().Get("layer0.weight")
	pb, _ := b.Params().Get("layer0.weight")
	for i := range pa.Data {
		if pa.Data[i] != pb.Data[i] {
			t.Fatal("same seed produced different weights")
		}
	}
}

func TestTrainLearnsToyProblem(t *testing.T) {
	net, err := New(toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := toyCollection()
	shard := c.AllIndices()

	loss, after, err := net.Train(c, shard, 300)
	if err != nil {
		t.Fatal(err)
	}
	if after != 100 {
		t.Errorf("accuracy after training = %.1f, want 100", after)
	}
	if loss <= 0 {
		t.Errorf("loss = %f, want positive", loss)
	}
	for _, idx := range shard {
		sample := c.Sample(idx)
		if got := net.Predict(sample.Input); got != sample.Label {
			t.Errorf("Predict(sample %d) = %d, want %d", idx, got, sample.Label)
		}
	}
}

func TestTestReadOnly(t *testing.T) {
	net, err := New(toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := toyCollection()
	before, _ := net.Params().Get("layer0.weight")
	if _, _, err := net.Test(c, nil); err != nil {
		t.Fatal(err)
	}
	after, _ := net.Params().Get("layer0.weight")
	for i := range before.Data {
		if before.Data[i] != after.Data[i] {
			t.Fatal("Test mutated network weights")
		}
	}
}

func TestTrainEmptyShard(t *testing.T) {
	net, _ := New(toyConfig())
	if _, _, err := net.Train(toyCollection(), []int{}, 1); err == nil {
		t.Error("expected error for empty shard")
	}
}
