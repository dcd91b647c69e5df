package fl

import (
	"log/slog"
	"time"
)

// RoundStats holds timing information for the phases of one round.
type RoundStats struct {
	BroadcastTime time.Duration
	TrainTime     time.Duration
	AggregateTime time.Duration
	EvaluateTime  time.Duration
}

// Total sums all phase durations.
func (s *RoundStats) Total() time.Duration {
	return s.BroadcastTime + s.TrainTime + s.AggregateTime + s.EvaluateTime
}

// LogValue makes RoundStats loggable as a structured group.
func (s *RoundStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("broadcast", s.BroadcastTime),
		slog.Duration("train", s.TrainTime),
		slog.Duration("aggregate", s.AggregateTime),
		slog.Duration("evaluate", s.EvaluateTime),
		slog.Duration("total", s.Total()),
	)
}
