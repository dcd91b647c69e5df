package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSynthetic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := Synthetic(50, 8, NumClasses, rng)
	if c.Len() != 50 {
		t.Fatalf("Len = %d, want 50", c.Len())
	}
	for i := 0; i < c.Len(); i++ {
		s := c.Sample(i)
		if s.Label < 0 || s.Label >= NumClasses {
			t.Fatalf("sample %d label = %d, out of range", i, s.Label)
		}
		if s.Input.Len() != 8 {
			t.Fatalf("sample %d input len = %d, want 8", i, s.Input.Len())
		}
	}
}

func TestAllIndices(t *testing.T) {
	c := Synthetic(5, 2, NumClasses, rand.New(rand.NewSource(1)))
	idx := c.AllIndices()
	if len(idx) != 5 {
		t.Fatalf("len = %d, want 5", len(idx))
	}
	for i, v := range idx {
		if v != i {
			t.Errorf("idx[%d] = %d, want %d", i, v, i)
		}
	}
}

func writeCSV(t *testing.T, path string, rows, inputDim int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < rows; i++ {
		b.WriteString(fmt.Sprintf("%d", i%NumClasses))
		for j := 0; j < inputDim; j++ {
			b.WriteString(fmt.Sprintf(",%d", (i+j)%256))
		}
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMNIST(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, filepath.Join(dir, mnistTrainFile), 20, 4)
	writeCSV(t, filepath.Join(dir, mnistTestFile), 10, 4)

	train, test, err := LoadMNIST(dir, 4, true)
	if err != nil {
		t.Fatalf("LoadMNIST: %v", err)
	}
	if train.Len() != 20 || test.Len() != 10 {
		t.Fatalf("got %d train / %d test, want 20 / 10", train.Len(), test.Len())
	}
	if train.Label(3) != 3 {
		t.Errorf("train label 3 = %d, want 3", train.Label(3))
	}
	// pixel 255 must normalize to 1.0, pixel 0 to 0.01
	for _, v := range train.Sample(0).Input.Data {
		if v < 0.01 || v > 1.0 {
			t.Errorf("normalized pixel %f outside [0.01, 1.0]", v)
		}
	}
}

func TestLoadMNISTMissingFile(t *testing.T) {
	_, _, err := LoadMNIST(t.TempDir(), 4, true)
	if err == nil {
		t.Fatal("expected error for missing csv files")
	}
}
