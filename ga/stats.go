package ga

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// entropyEps keeps the log finite when a softmax probability underflows.
const entropyEps = 1e-8

// Stats is the per-generation statistics record consumed by the
// orchestrator and telemetry. Degenerate inputs (empty population, single
// sampled agent, zero variance) produce 0.0 sentinels, never NaN.
type Stats struct {
	MeanElo float64
	PeakElo float64
	MinElo  float64
	StdElo  float64

	MeanFitness float64
	MinFitness  float64
	MaxFitness  float64
	StdFitness  float64

	MeanMutationRate float64

	// PolicyEntropy is the mean Shannon entropy of sampled agents'
	// softmaxed outputs on a shared probe input batch; EntropyVariance
	// across the same sample is the convergence signal.
	PolicyEntropy   float64
	EntropyVariance float64

	// Diversity is the mean pairwise Euclidean distance between weight
	// vectors over a bounded random sample of agents.
	Diversity float64
}

// Stats computes the generation statistics. The RNG drives probe input
// generation and agent sampling; threading it explicitly keeps the record
// reproducible for a fixed seed.
func (g *Genetic) Stats(pop []*Agent, rng *rand.Rand) Stats {
	var s Stats
	if len(pop) == 0 {
		return s
	}

	elos := make([]float64, len(pop))
	fitness := make([]float64, len(pop))
	rates := make([]float64, len(pop))
	for i, a := range pop {
		elos[i] = a.Elo
		fitness[i] = a.Fitness
		rates[i] = a.MutationApplied.Or(0)
	}

	s.MeanElo = stat.Mean(elos, nil)
	s.PeakElo = floats.Max(elos)
	s.MinElo = floats.Min(elos)
	s.StdElo = sentinel(stat.StdDev(elos, nil))

	s.MeanFitness = stat.Mean(fitness, nil)
	s.MinFitness = floats.Min(fitness)
	s.MaxFitness = floats.Max(fitness)
	s.StdFitness = sentinel(stat.StdDev(fitness, nil))

	s.MeanMutationRate = stat.Mean(rates, nil)

	sample := g.sampleAgents(pop, rng)
	s.PolicyEntropy, s.EntropyVariance = g.policyEntropy(sample, rng)
	s.Diversity = g.diversity(sample)

	return s
}

// sampleAgents picks a bounded random sample for the O(n²)-ish metrics.
func (g *Genetic) sampleAgents(pop []*Agent, rng *rand.Rand) []*Agent {
	limit := g.cfg.Experiment.DiversitySample
	if limit <= 0 || len(pop) <= limit {
		return pop
	}
	sample := make([]*Agent, limit)
	for i, idx := range rng.Perm(len(pop))[:limit] {
		sample[i] = pop[idx]
	}
	return sample
}

// policyEntropy runs the sampled agents against a shared probe batch of
// standard-normal inputs and returns the mean per-agent entropy and its
// population variance across the sample.
func (g *Genetic) policyEntropy(sample []*Agent, rng *rand.Rand) (mean, variance float64) {
	if len(sample) == 0 {
		return 0, 0
	}

	probes := g.cfg.Experiment.EntropyProbes
	if probes < 1 {
		probes = 1
	}
	inputs := make([][]float32, probes)
	for p := range inputs {
		inputs[p] = make([]float32, g.arch.InputSize)
		for j := range inputs[p] {
			inputs[p][j] = float32(rng.NormFloat64())
		}
	}

	probs := make([]float64, g.arch.OutputSize)
	entropies := make([]float64, len(sample))
	for i, a := range sample {
		var h float64
		for _, in := range inputs {
			a.Policy.Distribution(in, probs)
			for _, p := range probs {
				h -= p * math.Log(p+entropyEps)
			}
		}
		entropies[i] = h / float64(probes)
	}

	mean = stat.Mean(entropies, nil)
	// Population variance, matching the convergence threshold semantics.
	for _, h := range entropies {
		d := h - mean
		variance += d * d
	}
	variance /= float64(len(entropies))
	return mean, variance
}

// diversity is the mean pairwise Euclidean distance between the sampled
// agents' weight vectors. Fewer than two agents yields the 0.0 sentinel.
func (g *Genetic) diversity(sample []*Agent) float64 {
	if len(sample) < 2 {
		return 0
	}

	vectors := make([][]float64, len(sample))
	for i, a := range sample {
		w := a.Policy.Weights()
		v := make([]float64, len(w))
		for j, x := range w {
			v[j] = float64(x)
		}
		vectors[i] = v
	}

	var sum float64
	var count int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += floats.Distance(vectors[i], vectors[j], 2)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// sentinel maps NaN (zero-variance degeneracy) to the 0.0 sentinel.
func sentinel(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
