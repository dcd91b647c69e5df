package fl

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedq/partition"
	"fedq/quantize"
)

const sampleTOML = `
clients = 5
local_epochs = 1
epochs_per_client = [1, 1, 2, 1, 3]
batch_size = 25
learning_rate = 0.05
split = "noniid"
mix_fraction = 0.1
validation_fraction = 0.2
quantization = "int8"
target_accuracy = 90.0
max_rounds = 50
parallel = true
seed = 42
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Clients)
	assert.Equal(t, []int{1, 1, 2, 1, 3}, cfg.EpochsPerClient)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, partition.NonIID, cfg.Mode)
	assert.Equal(t, 0.1, cfg.MixFraction)
	assert.Equal(t, 0.2, cfg.ValidationFraction)
	assert.Equal(t, quantize.AffineInt8, cfg.Scheme)
	assert.Equal(t, 90.0, cfg.TargetAccuracy)
	assert.Equal(t, 50, cfg.MaxRounds)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	badSplit := filepath.Join(dir, "split.toml")
	require.NoError(t, os.WriteFile(badSplit, []byte(`split = "sorted"`), 0644))
	_, err := LoadConfig(badSplit)
	assert.Error(t, err)

	badScheme := filepath.Join(dir, "scheme.toml")
	require.NoError(t, os.WriteFile(badScheme, []byte(`quantization = "int4"`), 0644))
	_, err = LoadConfig(badScheme)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestStateFileName(t *testing.T) {
	cfg := Config{Clients: 5, Mode: partition.IID, Scheme: quantize.AffineInt8}
	assert.Equal(t, "num_clients_5_split_iid_quantization_int8.json", StateFileName(cfg))
}

func TestExperimentStateSave(t *testing.T) {
	state := &ExperimentState{NumRounds: 2, TestAccuracies: []float64{40, 91}}
	state.recordBroadcast(1000, 250)
	state.recordUpdates(big.NewInt(1000000), big.NewInt(125000))

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, state.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{
		"num_rounds",
		"test_accuracies",
		"conserved_bits_from_server",
		"transferred_bits_from_server",
		"original_bits_from_server",
		"conserved_bits_from_clients",
		"transferred_bits_from_clients",
		"original_bits_from_clients",
	} {
		assert.Contains(t, decoded, key)
	}

	var roundTrip ExperimentState
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	assert.Equal(t, int64(750), roundTrip.ConservedBitsFromServer[0])
	assert.Equal(t, big.NewInt(875000), roundTrip.ConservedBitsFromClients[0])
}
