package main

import (
	"context"
	"math"
	"sync"

	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/experiment"
	"github.com/pthm-cable/petri/telemetry"
)

// FitnessEvaluator runs short experiments and scores hyperparameters.
type FitnessEvaluator struct {
	params      *ParamVector
	generations int
	seeds       []int64
	baseConfig  *config.Config

	mu          sync.Mutex
	lastQuality float64 // quality from most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, generations int, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		generations: generations,
		seeds:       seeds,
		baseConfig:  baseCfg,
	}
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	score   float64
	quality float64
	failed  bool
}

// Evaluate computes fitness for a parameter vector (lower = better).
// The score rewards the final generation's mean fitness plus a peak-Elo
// progress term; CMA-ES minimizes, so the score is negated.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	// Run all seeds in parallel; each seed gets its own config copy.
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runExperiment(x, s)
		}(i, seed)
	}
	wg.Wait()

	var totalScore, totalQuality float64
	for _, r := range results {
		if r.failed {
			// A configuration that cannot even construct a runner is
			// maximally bad, not an optimizer crash.
			fe.setQuality(0)
			return 1e9
		}
		totalScore += r.score
		totalQuality += r.quality
	}

	n := float64(len(fe.seeds))
	fe.setQuality(totalQuality / n)
	return -totalScore / n
}

func (fe *FitnessEvaluator) setQuality(q float64) {
	fe.mu.Lock()
	fe.lastQuality = q
	fe.mu.Unlock()
}

// runExperiment runs one short experiment and scores its final state.
func (fe *FitnessEvaluator) runExperiment(x []float64, seed int64) seedResult {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Experiment.RandomSeed = seed
	cfg.Experiment.MaxGenerations = fe.generations

	var last telemetry.GenerationRecord
	runner, err := experiment.NewRunner(cfg, experiment.Hooks{
		OnGeneration: func(rec telemetry.GenerationRecord) {
			last = rec
		},
	})
	if err != nil {
		return seedResult{failed: true}
	}

	if _, err := runner.RunExperiment(context.Background()); err != nil {
		return seedResult{failed: true}
	}

	// Score: survivors' fitness plus how far ratings climbed above the
	// starting point. Quality is the surviving fraction, for progress
	// output only.
	eloGain := math.Max(0, last.MaxGlobalElo-1500)
	score := last.MeanFitness + 0.5*eloGain
	quality := float64(last.Survivors) / float64(cfg.Evolution.PopulationSize)

	return seedResult{score: score, quality: quality}
}

// copyConfig makes a shallow copy of the base config. The hidden layer
// slice is shared but never mutated by the tuner.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}
