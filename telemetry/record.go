// Package telemetry handles structured experiment output: per-generation
// CSV records, milestone detection, phase timing, and the convergence
// detector driving early stopping.
package telemetry

import (
	"log/slog"

	"github.com/pthm-cable/petri/ga"
)

// GenerationRecord holds the statistics of one completed generation.
type GenerationRecord struct {
	Generation     int   `csv:"generation"`
	PopulationSize int   `csv:"population_size"`
	WallTimeMS     int64 `csv:"wall_time_ms"`
	Survivors      int   `csv:"survivors"`

	MeanElo      float64 `csv:"mean_elo"`
	PeakElo      float64 `csv:"peak_elo"`
	MinElo       float64 `csv:"min_elo"`
	StdElo       float64 `csv:"std_elo"`
	MaxGlobalElo float64 `csv:"max_global_elo"`

	MeanFitness float64 `csv:"mean_fitness"`
	MinFitness  float64 `csv:"min_fitness"`
	MaxFitness  float64 `csv:"max_fitness"`
	StdFitness  float64 `csv:"std_fitness"`

	MeanMutationRate float64 `csv:"mean_mutation_rate"`

	PolicyEntropy   float64 `csv:"policy_entropy"`
	EntropyVariance float64 `csv:"entropy_variance"`
	Diversity       float64 `csv:"diversity"`
}

// NewGenerationRecord flattens a stats snapshot into a record.
func NewGenerationRecord(generation int, s ga.Stats, maxGlobalElo float64, populationSize, survivors int, wallTimeMS int64) GenerationRecord {
	return GenerationRecord{
		Generation:       generation,
		PopulationSize:   populationSize,
		WallTimeMS:       wallTimeMS,
		Survivors:        survivors,
		MeanElo:          s.MeanElo,
		PeakElo:          s.PeakElo,
		MinElo:           s.MinElo,
		StdElo:           s.StdElo,
		MaxGlobalElo:     maxGlobalElo,
		MeanFitness:      s.MeanFitness,
		MinFitness:       s.MinFitness,
		MaxFitness:       s.MaxFitness,
		StdFitness:       s.StdFitness,
		MeanMutationRate: s.MeanMutationRate,
		PolicyEntropy:    s.PolicyEntropy,
		EntropyVariance:  s.EntropyVariance,
		Diversity:        s.Diversity,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (r GenerationRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("generation", r.Generation),
		slog.Int("population_size", r.PopulationSize),
		slog.Int64("wall_time_ms", r.WallTimeMS),
		slog.Int("survivors", r.Survivors),
		slog.Float64("mean_elo", r.MeanElo),
		slog.Float64("peak_elo", r.PeakElo),
		slog.Float64("max_global_elo", r.MaxGlobalElo),
		slog.Float64("mean_fitness", r.MeanFitness),
		slog.Float64("max_fitness", r.MaxFitness),
		slog.Float64("policy_entropy", r.PolicyEntropy),
		slog.Float64("entropy_variance", r.EntropyVariance),
		slog.Float64("diversity", r.Diversity),
	)
}
