package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"fedq/tensor"
)

// reducedLen caps the reduced dataset mode to the first samples of each split.
const reducedLen = 5000

// MNIST file names expected under the dataset root directory.
const (
	mnistTrainFile = "mnist_train.csv"
	mnistTestFile  = "mnist_test.csv"
)

// LoadMNIST reads the train and test splits from root. When full is false
// each split is truncated to its first 5000 samples.
func LoadMNIST(root string, inputDim int, full bool) (train, test *Collection, err error) {
	train, err = readCSV(filepath.Join(root, mnistTrainFile), inputDim, full)
	if err != nil {
		return nil, nil, fmt.Errorf("loading train split: %w", err)
	}
	test, err = readCSV(filepath.Join(root, mnistTestFile), inputDim, full)
	if err != nil {
		return nil, nil, fmt.Errorf("loading test split: %w", err)
	}
	return train, test, nil
}

// first val in line is the label, rest are the pixel densities
func readCSV(filename string, inputDim int, full bool) (*Collection, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var samples []Sample
	r := csv.NewReader(bufio.NewReader(file))
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}
		if len(record) < inputDim+1 {
			return nil, fmt.Errorf("reading %s: record has %d fields, want %d", filename, len(record), inputDim+1)
		}

		label, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("parsing label: %w", err)
		}
		if label < 0 || label >= NumClasses {
			return nil, fmt.Errorf("label %d out of range [0,%d)", label, NumClasses)
		}

		input := tensor.New(inputDim)
		for i := range input.Data {
			x, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing pixel %d: %w", i, err)
			}
			input.Data[i] = (x / 255.0 * 0.99) + 0.01
		}

		samples = append(samples, Sample{Input: input, Label: label})
		if !full && len(samples) >= reducedLen {
			break
		}
	}

	return NewCollection(samples), nil
}
