package model

import (
	"encoding/json"
	"fmt"
	"os"

	"fedq/tensor"
)

// WeightData represents serializable weight data for one parameter
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all weights in a model
type ModelWeights struct {
	Version string       `json:"version"`
	Weights []WeightData `json:"weights"`
}

// SaveWeights saves a parameter mapping to a JSON file
func SaveWeights(filepath string, p *Params) error {
	mw := ModelWeights{Version: "1", Weights: make([]WeightData, 0, p.Len())}
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		mw.Weights = append(mw.Weights, *TensorToWeightData(name, t))
	}
	data, err := json.MarshalIndent(mw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads a parameter mapping from a JSON file
func LoadWeights(filepath string) (*Params, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var mw ModelWeights
	if err := json.Unmarshal(data, &mw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	p := NewParams()
	for i := range mw.Weights {
		p.Set(mw.Weights[i].Name, WeightDataToTensor(&mw.Weights[i]))
	}
	return p, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int{}, t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}
