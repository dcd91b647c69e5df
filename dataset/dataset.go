// Package dataset loads and holds labeled sample collections.
package dataset

import (
	"math/rand"

	"fedq/tensor"
)

// NumClasses is the size of the label alphabet for the supported datasets.
const NumClasses = 10

// Sample is one (input, label) pair. The label is an integer class
// identifier in [0, NumClasses).
type Sample struct {
	Input *tensor.Tensor
	Label int
}

// Collection is an ordered, immutable sequence of samples. Shards reference
// samples by index into a Collection and never copy the data.
type Collection struct {
	samples []Sample
}

// NewCollection wraps samples in a Collection.
func NewCollection(samples []Sample) *Collection {
	return &Collection{samples: samples}
}

// Len returns the number of samples.
func (c *Collection) Len() int {
	return len(c.samples)
}

// Sample returns the i-th sample.
func (c *Collection) Sample(i int) Sample {
	return c.samples[i]
}

// Label returns the label of the i-th sample.
func (c *Collection) Label(i int) int {
	return c.samples[i].Label
}

// Labels returns all labels in collection order.
func (c *Collection) Labels() []int {
	out := make([]int, len(c.samples))
	for i := range c.samples {
		out[i] = c.samples[i].Label
	}
	return out
}

// AllIndices returns [0, Len) as a fresh slice.
func (c *Collection) AllIndices() []int {
	out := make([]int, len(c.samples))
	for i := range out {
		out[i] = i
	}
	return out
}

// Synthetic generates n random samples with inputDim features and labels
// drawn uniformly from [0, numClasses). Useful for tests and dry runs.
func Synthetic(n, inputDim, numClasses int, rng *rand.Rand) *Collection {
	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		in := tensor.New(inputDim)
		for j := range in.Data {
			in.Data[j] = rng.NormFloat64()
		}
		samples[i] = Sample{Input: in, Label: rng.Intn(numClasses)}
	}
	return NewCollection(samples)
}
