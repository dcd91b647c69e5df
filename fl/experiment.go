package fl

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// ExperimentState accumulates one entry per round for accuracy and for the
// communication cost in both transfer directions. Client-direction totals
// are a product across the clients' per-model sizes, not a sum; JSON keys
// match the recorded experiment format.
type ExperimentState struct {
	NumRounds      int       `json:"num_rounds"`
	TestAccuracies []float64 `json:"test_accuracies"`

	ConservedBitsFromServer   []int64 `json:"conserved_bits_from_server"`
	TransferredBitsFromServer []int64 `json:"transferred_bits_from_server"`
	OriginalBitsFromServer    []int64 `json:"original_bits_from_server"`

	ConservedBitsFromClients   []*big.Int `json:"conserved_bits_from_clients"`
	TransferredBitsFromClients []*big.Int `json:"transferred_bits_from_clients"`
	OriginalBitsFromClients    []*big.Int `json:"original_bits_from_clients"`
}

// recordBroadcast appends one server→client accounting entry.
func (s *ExperimentState) recordBroadcast(original, transferred int64) {
	s.OriginalBitsFromServer = append(s.OriginalBitsFromServer, original)
	s.TransferredBitsFromServer = append(s.TransferredBitsFromServer, transferred)
	s.ConservedBitsFromServer = append(s.ConservedBitsFromServer, original-transferred)
}

// recordUpdates appends one client→server accounting entry.
func (s *ExperimentState) recordUpdates(original, transferred *big.Int) {
	s.OriginalBitsFromClients = append(s.OriginalBitsFromClients, original)
	s.TransferredBitsFromClients = append(s.TransferredBitsFromClients, transferred)
	s.ConservedBitsFromClients = append(s.ConservedBitsFromClients, new(big.Int).Sub(original, transferred))
}

// LastAccuracy returns the most recent test accuracy, or 0 before round 1.
func (s *ExperimentState) LastAccuracy() float64 {
	if len(s.TestAccuracies) == 0 {
		return 0
	}
	return s.TestAccuracies[len(s.TestAccuracies)-1]
}

// Save writes the state as indented JSON.
func (s *ExperimentState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal experiment state: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// StateFileName derives the output file name from the run parameters.
func StateFileName(cfg Config) string {
	return fmt.Sprintf("num_clients_%d_split_%s_quantization_%s.json", cfg.Clients, cfg.Mode, cfg.Scheme)
}
