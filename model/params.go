// Package model holds named parameter tensors and their serialized forms.
package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"fedq/tensor"
)

// ErrShapeMismatch reports parameter mappings with incompatible key sets or
// tensor shapes.
var ErrShapeMismatch = errors.New("model: shape mismatch")

// Params is an ordered mapping from parameter name to tensor. Insertion
// order is preserved so that serialization and aggregation are deterministic.
type Params struct {
	names   []string
	tensors map[string]*tensor.Tensor
}

// NewParams returns an empty parameter mapping.
func NewParams() *Params {
	return &Params{tensors: make(map[string]*tensor.Tensor)}
}

// Set stores t under name, keeping first-insertion order.
func (p *Params) Set(name string, t *tensor.Tensor) {
	if _, ok := p.tensors[name]; !ok {
		p.names = append(p.names, name)
	}
	p.tensors[name] = t
}

// Get returns the tensor stored under name.
func (p *Params) Get(name string) (*tensor.Tensor, bool) {
	t, ok := p.tensors[name]
	return t, ok
}

// Names returns parameter names in insertion order.
func (p *Params) Names() []string {
	return append([]string(nil), p.names...)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	return len(p.names)
}

// NumValues returns the total element count across all tensors.
func (p *Params) NumValues() int {
	n := 0
	for _, name := range p.names {
		n += p.tensors[name].Len()
	}
	return n
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	out := NewParams()
	for _, name := range p.names {
		out.Set(name, p.tensors[name].Clone())
	}
	return out
}

// Compatible reports whether a and b have identical key sets and identical
// per-key tensor shapes. The returned error wraps ErrShapeMismatch with the
// offending key.
func Compatible(a, b *Params) error {
	if a.Len() != b.Len() {
		return fmt.Errorf("%w: %d parameters vs %d", ErrShapeMismatch, a.Len(), b.Len())
	}
	for _, name := range a.names {
		ta := a.tensors[name]
		tb, ok := b.tensors[name]
		if !ok {
			return fmt.Errorf("%w: parameter %q missing", ErrShapeMismatch, name)
		}
		if !tensor.SameShape(ta, tb) {
			return fmt.Errorf("%w: parameter %q has shape %v vs %v", ErrShapeMismatch, name, ta.Shape, tb.Shape)
		}
	}
	return nil
}

// gobParams is the wire form of Params, kept flat so that a size measurement
// of the encoding reflects exactly what crosses the transfer boundary.
type gobParams struct {
	Weights []WeightData
}

// GobEncode implements gob.GobEncoder.
func (p *Params) GobEncode() ([]byte, error) {
	w := gobParams{Weights: make([]WeightData, 0, p.Len())}
	for _, name := range p.names {
		w.Weights = append(w.Weights, *TensorToWeightData(name, p.tensors[name]))
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (p *Params) GobDecode(data []byte) error {
	var w gobParams
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	p.names = nil
	p.tensors = make(map[string]*tensor.Tensor, len(w.Weights))
	for i := range w.Weights {
		p.Set(w.Weights[i].Name, WeightDataToTensor(&w.Weights[i]))
	}
	return nil
}
