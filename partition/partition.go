// Package partition carves a labeled sample collection into per-client shards.
package partition

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"fedq/dataset"
)

// Mode selects how training samples are distributed across clients.
type Mode int

const (
	// IID gives every client a uniform random sample of the collection.
	IID Mode = iota
	// NonIID gives every client a disjoint, contiguous range of labels.
	NonIID
)

func (m Mode) String() string {
	switch m {
	case IID:
		return "iid"
	case NonIID:
		return "noniid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// notFound is the sentinel returned by the boundary searches when a label
// has no occurrence in the sorted label sequence.
const notFound = -1

// LabelNotFoundError reports a label-range boundary with no matching sample.
// It is a degenerate-input condition, not a fatal one: the affected client
// simply receives an empty or truncated shard.
type LabelNotFoundError struct {
	Label  int
	Client int
}

func (e *LabelNotFoundError) Error() string {
	return fmt.Sprintf("partition: label %d not found (client %d)", e.Label, e.Client)
}

// Options configures a partition call.
type Options struct {
	Clients int
	Mode    Mode
	// MixFraction is the fraction of the training data redistributed
	// uniformly across clients in NonIID mode, in [0, 1].
	MixFraction float64
	// ValidationFraction is carved out of the collection before client
	// partitioning, in [0, 1).
	ValidationFraction float64
	NumClasses         int
	Seed               int64
	Logger             *slog.Logger
}

// Result holds the produced shards. Every index at every level points
// directly into the original collection.
type Result struct {
	// Clients has exactly Options.Clients shards.
	Clients [][]int
	// Validation holds the held-out indices, empty unless a validation
	// fraction was requested.
	Validation []int
	// Missing records every label-range boundary that had no samples.
	Missing []*LabelNotFoundError
}

// Split partitions c into per-client shards according to opts. Together the
// client shards cover the non-validation portion of c, modulo remainder
// indices dropped to keep IID shards equally sized.
func Split(c *dataset.Collection, opts Options) (*Result, error) {
	if opts.Clients < 1 {
		return nil, fmt.Errorf("partition: client count must be positive, got %d", opts.Clients)
	}
	if opts.MixFraction < 0 || opts.MixFraction > 1 {
		return nil, fmt.Errorf("partition: mix fraction %f outside [0,1]", opts.MixFraction)
	}
	if opts.ValidationFraction < 0 || opts.ValidationFraction >= 1 {
		return nil, fmt.Errorf("partition: validation fraction %f outside [0,1)", opts.ValidationFraction)
	}
	if opts.Mode == NonIID && opts.NumClasses < 1 {
		return nil, fmt.Errorf("partition: non-IID split needs a positive class count, got %d", opts.NumClasses)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	res := &Result{}

	train := c.AllIndices()
	if opts.ValidationFraction > 0 {
		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
		nVal := int(opts.ValidationFraction * float64(len(train)))
		res.Validation = append([]int(nil), train[:nVal]...)
		train = train[nVal:]
	}

	switch opts.Mode {
	case IID:
		res.Clients = iidSplit(train, opts.Clients, rng)
	case NonIID:
		mix := []int(nil)
		if opts.MixFraction > 0 {
			rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
			nMix := int(opts.MixFraction * float64(len(train)))
			mix = train[:nMix]
			train = train[nMix:]
		}
		res.Clients, res.Missing = nonIIDSplit(c, train, opts.Clients, opts.NumClasses)
		for _, miss := range res.Missing {
			logger.Warn("label range has no samples, client shard truncated",
				slog.Int("label", miss.Label),
				slog.Int("client", miss.Client))
		}
		if len(mix) > 0 {
			per := len(mix) / opts.Clients
			for i := range res.Clients {
				res.Clients[i] = append(res.Clients[i], mix[i*per:(i+1)*per]...)
			}
		}
		// Shuffle shard order across clients so client 0 does not always
		// hold the lowest labels. Indices within a shard stay put.
		rng.Shuffle(len(res.Clients), func(i, j int) {
			res.Clients[i], res.Clients[j] = res.Clients[j], res.Clients[i]
		})
	default:
		return nil, fmt.Errorf("partition: unknown mode %d", int(opts.Mode))
	}

	return res, nil
}

// iidSplit shuffles indices and cuts them into k equal contiguous blocks,
// dropping the remainder.
func iidSplit(indices []int, k int, rng *rand.Rand) [][]int {
	rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	per := len(indices) / k
	shards := make([][]int, k)
	for i := 0; i < k; i++ {
		shards[i] = append([]int(nil), indices[i*per:(i+1)*per]...)
	}
	return shards
}

// nonIIDSplit sorts indices by label and assigns each client a contiguous
// label range of floor(numClasses/k) classes; the last client absorbs any
// trailing classes.
func nonIIDSplit(c *dataset.Collection, indices []int, k, numClasses int) ([][]int, []*LabelNotFoundError) {
	sorted := append([]int(nil), indices...)
	sort.SliceStable(sorted, func(i, j int) bool { return c.Label(sorted[i]) < c.Label(sorted[j]) })
	labels := make([]int, len(sorted))
	for i, idx := range sorted {
		labels[i] = c.Label(idx)
	}

	digitsPerClient := numClasses / k
	shards := make([][]int, k)
	var missing []*LabelNotFoundError
	for i := 0; i < k; i++ {
		start := i * digitsPerClient
		first := firstIndex(labels, start)
		if first == notFound {
			missing = append(missing, &LabelNotFoundError{Label: start, Client: i})
			shards[i] = []int{}
			continue
		}
		var last int
		if i == k-1 {
			last = len(labels) - 1
		} else {
			end := start + digitsPerClient - 1
			last = lastIndex(labels, end)
			if last == notFound {
				missing = append(missing, &LabelNotFoundError{Label: end, Client: i})
				shards[i] = []int{}
				continue
			}
		}
		if last < first {
			shards[i] = []int{}
			continue
		}
		shards[i] = append([]int(nil), sorted[first:last+1]...)
	}
	return shards, missing
}

// firstIndex returns the smallest index whose label equals item, or notFound.
func firstIndex(labels []int, item int) int {
	low, high := 0, len(labels)-1
	for low <= high {
		mid := low + (high-low)/2
		switch {
		case (mid == 0 || item > labels[mid-1]) && labels[mid] == item:
			return mid
		case item > labels[mid]:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return notFound
}

// lastIndex returns the largest index whose label equals item, or notFound.
func lastIndex(labels []int, item int) int {
	low, high := 0, len(labels)-1
	for low <= high {
		mid := low + (high-low)/2
		switch {
		case (mid == len(labels)-1 || item < labels[mid+1]) && labels[mid] == item:
			return mid
		case item < labels[mid]:
			high = mid - 1
		default:
			low = mid + 1
		}
	}
	return notFound
}
