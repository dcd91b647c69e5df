// Package aggregate combines client parameter mappings into one.
package aggregate

import (
	"errors"
	"fmt"

	"fedq/model"
	"fedq/tensor"
)

// ErrEmptyInput reports an aggregation call with no models.
var ErrEmptyInput = errors.New("aggregate: no models to average")

// Average returns the element-wise arithmetic mean of the given parameter
// mappings. All inputs must be pairwise compatible and the slice non-empty.
// Every client contributes equally regardless of shard size.
func Average(models []*model.Params) (*model.Params, error) {
	if len(models) == 0 {
		return nil, ErrEmptyInput
	}
	for i := 1; i < len(models); i++ {
		if err := model.Compatible(models[0], models[i]); err != nil {
			return nil, fmt.Errorf("model %d: %w", i, err)
		}
	}

	out := model.NewParams()
	inv := 1.0 / float64(len(models))
	for _, name := range models[0].Names() {
		first, _ := models[0].Get(name)
		sum := first.Clone()
		for _, m := range models[1:] {
			t, _ := m.Get(name)
			for i := range sum.Data {
				sum.Data[i] += t.Data[i]
			}
		}
		out.Set(name, tensor.Scale(inv, sum))
	}
	return out, nil
}
