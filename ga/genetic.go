package ga

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/neural"
)

// Genetic owns the evolutionary operators and the running maximum Elo.
// Randomness is always taken from explicit *rand.Rand handles so every
// stage stays reproducible under a fixed seed.
type Genetic struct {
	cfg          *config.Config
	arch         neural.Arch
	maxGlobalElo float64
}

// NewGenetic creates the genetic algorithm. Construction fails fast on a
// config the operators cannot run with.
func NewGenetic(cfg *config.Config) (*Genetic, error) {
	switch cfg.Evolution.MutationMode {
	case config.MutationStatic, config.MutationAdaptive:
	default:
		return nil, fmt.Errorf("ga: unknown mutation mode %q", cfg.Evolution.MutationMode)
	}
	if cfg.Network.InputSize <= 0 || cfg.Network.OutputSize <= 0 {
		return nil, fmt.Errorf("ga: invalid network dimensions %dx%d",
			cfg.Network.InputSize, cfg.Network.OutputSize)
	}

	return &Genetic{
		cfg: cfg,
		arch: neural.Arch{
			InputSize:    cfg.Network.InputSize,
			HiddenLayers: cfg.Network.HiddenLayers,
			OutputSize:   cfg.Network.OutputSize,
		},
		maxGlobalElo: InitialElo,
	}, nil
}

// Arch returns the policy architecture.
func (g *Genetic) Arch() neural.Arch {
	return g.arch
}

// MaxGlobalElo returns the highest rating ever observed. Monotonic.
func (g *Genetic) MaxGlobalElo() float64 {
	return g.maxGlobalElo
}

// ObserveElo raises the running maximum if r exceeds it. Used directly
// when restoring from a checkpoint; UpdateElo calls it after each match.
func (g *Genetic) ObserveElo(r float64) {
	if r > g.maxGlobalElo {
		g.maxGlobalElo = r
	}
}

// InitPopulation creates population_size agents with i.i.d. N(0, 0.1)
// weights and the initial rating.
func (g *Genetic) InitPopulation(rng *rand.Rand) []*Agent {
	n := g.cfg.Evolution.PopulationSize
	pop := make([]*Agent, n)
	for i := range pop {
		pop[i] = &Agent{
			ID:     i,
			Policy: neural.NewRandomPolicy(g.arch, rng),
			Elo:    InitialElo,
		}
	}
	return pop
}

// UpdateElo applies one pairwise match result. scoreA is 1 for a win by a,
// 0 for a loss, 0.5 for a tie. The update is zero-sum: expected scores
// sum to 1, so the rating deltas cancel exactly.
func (g *Genetic) UpdateElo(a, b *Agent, scoreA float64) {
	ea := 1 / (1 + math.Pow(10, (b.Elo-a.Elo)/400))
	eb := 1 / (1 + math.Pow(10, (a.Elo-b.Elo)/400))

	k := g.cfg.Evolution.EloK
	a.Elo += k * (scoreA - ea)
	b.Elo += k * ((1 - scoreA) - eb)

	g.ObserveElo(a.Elo)
	g.ObserveElo(b.Elo)
}

// SelectParents returns the top selection_pressure fraction of the
// population by Elo, descending. The sort is stable, so equal ratings
// keep their original order and runs stay reproducible.
func (g *Genetic) SelectParents(pop []*Agent) []*Agent {
	ranked := make([]*Agent, len(pop))
	copy(ranked, pop)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Elo > ranked[j].Elo
	})

	n := g.cfg.Derived.NumParents
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// Crossover produces an offspring by uniform crossover: an independent
// fair coin per weight coordinate. The offspring's Elo and recorded
// parent Elo are the mean of the parents' ratings.
func (g *Genetic) Crossover(pa, pb *Agent, rng *rand.Rand) *Agent {
	wa := pa.Policy.Weights()
	wb := pb.Policy.Weights()

	flat := make([]float32, len(wa))
	for i := range flat {
		if rng.Float64() < 0.5 {
			flat[i] = wa[i]
		} else {
			flat[i] = wb[i]
		}
	}

	child := neural.NewPolicy(g.arch)
	// Lengths match by construction; SetWeights only fails on a count mismatch.
	if err := child.SetWeights(flat); err != nil {
		panic(fmt.Sprintf("ga: crossover weight mismatch: %v", err))
	}

	mean := (pa.Elo + pb.Elo) / 2
	return &Agent{
		Policy:    child,
		Elo:       mean,
		ParentElo: Some(mean),
	}
}

// Mutate perturbs the agent's weights in place with Gaussian noise. The
// sigma comes from the configured mutation mode; ADAPTIVE scales on the
// recorded parent Elo, falling back to the agent's own rating when no
// parent is recorded.
func (g *Genetic) Mutate(a *Agent, rng *rand.Rand) {
	parentElo := a.ParentElo.Or(a.Elo)
	sigma := g.cfg.MutationSigma(parentElo)
	a.MutationApplied = Some(sigma)
	a.Policy.Mutate(rng, float32(sigma))
}

// Evolve produces the next generation: elites survive unchanged, the rest
// of the slots are filled by crossover plus mutation over random parent
// pairs. The result always has exactly population_size agents. With fewer
// than two parents the fill degenerates to self-mutation of the survivor.
func (g *Genetic) Evolve(pop []*Agent, rng *rand.Rand) []*Agent {
	size := g.cfg.Evolution.PopulationSize
	parents := g.SelectParents(pop)

	eliteN := g.cfg.Derived.EliteCount
	if eliteN > len(parents) {
		eliteN = len(parents)
	}

	next := make([]*Agent, 0, size)
	for i := 0; i < eliteN && len(next) < size; i++ {
		next = append(next, parents[i])
	}

	for len(next) < size {
		var child *Agent
		if len(parents) < 2 {
			solo := parents[0]
			child = &Agent{
				Policy:    solo.Policy.Clone(),
				Elo:       solo.Elo,
				ParentElo: Some(solo.Elo),
			}
		} else {
			pa := parents[rng.Intn(len(parents))]
			pb := parents[rng.Intn(len(parents))]
			child = g.Crossover(pa, pb, rng)
		}
		g.Mutate(child, rng)
		next = append(next, child)
	}

	for i, a := range next {
		a.ID = i
		a.Fitness = 0
	}
	return next
}

// Refill grows a loaded population back to population_size by crossover
// and mutation over the loaded agents, preserving genetic continuity
// instead of injecting fresh random weights. Loaded agents keep their
// ratings; new slots get offspring of random loaded pairs.
func (g *Genetic) Refill(loaded []*Agent, rng *rand.Rand) []*Agent {
	size := g.cfg.Evolution.PopulationSize

	next := make([]*Agent, 0, size)
	next = append(next, loaded...)
	if len(next) > size {
		next = next[:size]
	}

	for len(next) < size {
		var child *Agent
		if len(loaded) < 2 {
			solo := loaded[0]
			child = &Agent{
				Policy:    solo.Policy.Clone(),
				Elo:       solo.Elo,
				ParentElo: Some(solo.Elo),
			}
		} else {
			pa := loaded[rng.Intn(len(loaded))]
			pb := loaded[rng.Intn(len(loaded))]
			child = g.Crossover(pa, pb, rng)
		}
		g.Mutate(child, rng)
		next = append(next, child)
	}

	for i, a := range next {
		a.ID = i
	}
	return next
}
