package ga

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/neural"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	// Small population keeps the tests fast.
	cfg.Evolution.PopulationSize = 20
	cfg.Experiment.EntropyProbes = 10
	cfg.ComputeDerived()
	return cfg
}

func newGenetic(t *testing.T, cfg *config.Config) *Genetic {
	t.Helper()
	g, err := NewGenetic(cfg)
	if err != nil {
		t.Fatalf("NewGenetic: %v", err)
	}
	return g
}

func TestNewGeneticRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.MutationMode = "LAMARCKIAN"
	if _, err := NewGenetic(cfg); err == nil {
		t.Error("unknown mutation mode should fail construction")
	}
}

func TestInitPopulation(t *testing.T) {
	cfg := testConfig(t)
	g := newGenetic(t, cfg)

	pop := g.InitPopulation(rand.New(rand.NewSource(42)))
	if len(pop) != cfg.Evolution.PopulationSize {
		t.Fatalf("population size = %d, want %d", len(pop), cfg.Evolution.PopulationSize)
	}
	for i, a := range pop {
		if a.Elo != InitialElo {
			t.Errorf("agent %d elo = %v, want %v", i, a.Elo, InitialElo)
		}
		if _, ok := a.ParentElo.Value(); ok {
			t.Errorf("agent %d has a parent elo at init", i)
		}
	}
}

func TestEloZeroSum(t *testing.T) {
	g := newGenetic(t, testConfig(t))

	a := &Agent{Elo: 1600}
	b := &Agent{Elo: 1450}
	sumBefore := a.Elo + b.Elo

	for _, score := range []float64{0, 0.5, 1} {
		g.UpdateElo(a, b, score)
		sum := a.Elo + b.Elo
		if math.Abs(sum-sumBefore) > 1e-9 {
			t.Errorf("score %v: rating sum drifted from %v to %v", score, sumBefore, sum)
		}
	}
}

func TestEloFavorsUpset(t *testing.T) {
	g := newGenetic(t, testConfig(t))

	underdog := &Agent{Elo: 1400}
	favorite := &Agent{Elo: 1700}
	g.UpdateElo(underdog, favorite, 1)

	gain := underdog.Elo - 1400
	if gain <= 16 {
		t.Errorf("upset win gained only %v, want more than K/2", gain)
	}
}

func TestMaxGlobalEloMonotonic(t *testing.T) {
	g := newGenetic(t, testConfig(t))

	a := &Agent{Elo: 1500}
	b := &Agent{Elo: 1500}

	prev := g.MaxGlobalElo()
	for i := 0; i < 50; i++ {
		// Alternate winners so ratings oscillate.
		g.UpdateElo(a, b, float64(i%2))
		if g.MaxGlobalElo() < prev {
			t.Fatalf("max global elo decreased: %v -> %v", prev, g.MaxGlobalElo())
		}
		prev = g.MaxGlobalElo()
	}
	if prev <= InitialElo {
		t.Errorf("max global elo never rose above the initial rating")
	}
}

func TestSelectionMonotonicity(t *testing.T) {
	cfg := testConfig(t)
	g := newGenetic(t, cfg)

	rng := rand.New(rand.NewSource(5))
	pop := g.InitPopulation(rng)
	for _, a := range pop {
		a.Elo = 1000 + rng.Float64()*1000
	}

	parents := g.SelectParents(pop)
	if len(parents) != cfg.Derived.NumParents {
		t.Fatalf("parent count = %d, want %d", len(parents), cfg.Derived.NumParents)
	}

	minSelected := math.Inf(1)
	for _, p := range parents {
		if p.Elo < minSelected {
			minSelected = p.Elo
		}
	}
	selected := make(map[*Agent]bool, len(parents))
	for _, p := range parents {
		selected[p] = true
	}
	for _, a := range pop {
		if !selected[a] && a.Elo > minSelected {
			t.Errorf("unselected agent with elo %v above selected minimum %v", a.Elo, minSelected)
		}
	}
}

func TestSelectionStableForEqualRatings(t *testing.T) {
	cfg := testConfig(t)
	g := newGenetic(t, cfg)

	pop := g.InitPopulation(rand.New(rand.NewSource(6)))
	// All equal ratings: selection must keep original index order.
	parents := g.SelectParents(pop)
	for i, p := range parents {
		if p.ID != i {
			t.Errorf("parent %d has ID %d, want %d (stable order broken)", i, p.ID, i)
		}
	}
}

func TestEvolvePopulationSizeInvariant(t *testing.T) {
	for _, size := range []int{1, 3, 7, 20} {
		cfg := testConfig(t)
		cfg.Evolution.PopulationSize = size
		cfg.ComputeDerived()
		g := newGenetic(t, cfg)

		rng := rand.New(rand.NewSource(int64(size)))
		pop := g.InitPopulation(rng)
		next := g.Evolve(pop, rng)
		if len(next) != size {
			t.Errorf("size %d: evolved population has %d agents", size, len(next))
		}
		for i, a := range next {
			if a.ID != i {
				t.Errorf("size %d: agent %d has ID %d", size, i, a.ID)
			}
			if a.Fitness != 0 {
				t.Errorf("size %d: agent %d fitness not reset", size, i)
			}
		}
	}
}

func TestElitismKeepsTopAgentsUnchanged(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.PopulationSize = 4
	cfg.Evolution.SelectionPressure = 0.5
	cfg.Evolution.EliteFraction = 0.5
	cfg.Evolution.MutationMode = config.MutationStatic
	cfg.Evolution.MutationRate = 0 // noise disabled
	cfg.ComputeDerived()
	g := newGenetic(t, cfg)

	rng := rand.New(rand.NewSource(9))
	pop := g.InitPopulation(rng)
	pop[0].Elo = 1400
	pop[1].Elo = 1800
	pop[2].Elo = 1300
	pop[3].Elo = 1700

	want1 := pop[1].Policy.Weights()
	want3 := pop[3].Policy.Weights()

	next := g.Evolve(pop, rng)

	// The two highest-rated agents survive unchanged, in rating order.
	got0 := next[0].Policy.Weights()
	got1 := next[1].Policy.Weights()
	for i := range want1 {
		if got0[i] != want1[i] {
			t.Fatalf("top elite weights changed at %d", i)
		}
		if got1[i] != want3[i] {
			t.Fatalf("second elite weights changed at %d", i)
		}
	}
	if next[0].Elo != 1800 || next[1].Elo != 1700 {
		t.Errorf("elite ratings = %v, %v; want 1800, 1700", next[0].Elo, next[1].Elo)
	}
}

func TestDegeneratePopulationSelfMutation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.PopulationSize = 4
	cfg.Evolution.SelectionPressure = 0.2 // floor(4*0.2) = 0, clamped to 1 parent
	cfg.ComputeDerived()
	g := newGenetic(t, cfg)

	rng := rand.New(rand.NewSource(13))
	pop := g.InitPopulation(rng)
	pop[2].Elo = 1900 // sole parent

	next := g.Evolve(pop, rng)
	if len(next) != 4 {
		t.Fatalf("population size = %d, want 4", len(next))
	}
	for i, a := range next {
		parentElo, ok := a.ParentElo.Value()
		if !ok || parentElo != 1900 {
			t.Errorf("agent %d parent elo = %v (present %v), want 1900", i, parentElo, ok)
		}
		if _, ok := a.MutationApplied.Value(); !ok {
			t.Errorf("agent %d has no recorded mutation rate", i)
		}
	}
}

func TestCrossoverUniformMixing(t *testing.T) {
	g := newGenetic(t, testConfig(t))
	rng := rand.New(rand.NewSource(17))

	pa := &Agent{Policy: constantPolicy(g, 1), Elo: 1600}
	pb := &Agent{Policy: constantPolicy(g, -1), Elo: 1400}

	child := g.Crossover(pa, pb, rng)
	if child.Elo != 1500 {
		t.Errorf("offspring elo = %v, want parent mean 1500", child.Elo)
	}
	parentElo, ok := child.ParentElo.Value()
	if !ok || parentElo != 1500 {
		t.Errorf("offspring parent elo = %v (present %v), want 1500", parentElo, ok)
	}

	var fromA, fromB int
	for _, w := range child.Policy.Weights() {
		switch w {
		case 1:
			fromA++
		case -1:
			fromB++
		default:
			t.Fatalf("offspring weight %v came from neither parent", w)
		}
	}
	if fromA == 0 || fromB == 0 {
		t.Errorf("crossover did not mix: %d from A, %d from B", fromA, fromB)
	}
}

func constantPolicy(g *Genetic, v float32) *neural.Policy {
	p := neural.NewPolicy(g.Arch())
	flat := p.Weights()
	for i := range flat {
		flat[i] = v
	}
	if err := p.SetWeights(flat); err != nil {
		panic(err)
	}
	return p
}

func TestAdaptiveMutationAtCeilingRating(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.MutationMode = config.MutationAdaptive
	cfg.ComputeDerived()
	g := newGenetic(t, cfg)

	rng := rand.New(rand.NewSource(23))
	a := &Agent{Policy: constantPolicy(g, 0), ParentElo: Some(cfg.Evolution.MaxPossibleElo)}
	g.Mutate(a, rng)

	applied, ok := a.MutationApplied.Value()
	if !ok {
		t.Fatal("no mutation rate recorded")
	}
	// Pre-clamp the rate is 0; the floor applies.
	if applied != cfg.Evolution.MutationFloor {
		t.Errorf("applied sigma = %v, want floor %v", applied, cfg.Evolution.MutationFloor)
	}
}

func TestStatsSentinels(t *testing.T) {
	g := newGenetic(t, testConfig(t))
	rng := rand.New(rand.NewSource(29))

	s := g.Stats(nil, rng)
	if s.MeanElo != 0 || s.Diversity != 0 || s.EntropyVariance != 0 {
		t.Errorf("empty population stats not zero: %+v", s)
	}

	// Single agent: zero-variance sentinels, no NaN.
	pop := []*Agent{{Policy: constantPolicy(g, 0.1), Elo: 1500}}
	s = g.Stats(pop, rng)
	if math.IsNaN(s.StdElo) || s.StdElo != 0 {
		t.Errorf("single-agent std elo = %v, want 0", s.StdElo)
	}
	if s.Diversity != 0 {
		t.Errorf("single-agent diversity = %v, want 0", s.Diversity)
	}
}

func TestStatsIdenticalPopulation(t *testing.T) {
	cfg := testConfig(t)
	g := newGenetic(t, cfg)
	rng := rand.New(rand.NewSource(31))

	pop := make([]*Agent, 8)
	for i := range pop {
		pop[i] = &Agent{ID: i, Policy: constantPolicy(g, 0.2), Elo: 1500, Fitness: 42}
	}

	s := g.Stats(pop, rng)
	if s.Diversity != 0 {
		t.Errorf("identical population diversity = %v, want 0", s.Diversity)
	}
	if s.EntropyVariance > 1e-12 {
		t.Errorf("identical population entropy variance = %v, want ~0", s.EntropyVariance)
	}
	if s.MeanFitness != 42 || s.MaxFitness != 42 || s.MinFitness != 42 {
		t.Errorf("fitness stats wrong: %+v", s)
	}
	if s.PolicyEntropy <= 0 {
		t.Errorf("policy entropy = %v, want positive", s.PolicyEntropy)
	}
}

func TestRefillPreservesLoadedAgents(t *testing.T) {
	cfg := testConfig(t)
	g := newGenetic(t, cfg)
	rng := rand.New(rand.NewSource(37))

	loaded := []*Agent{
		{Policy: constantPolicy(g, 0.5), Elo: 1900},
		{Policy: constantPolicy(g, -0.5), Elo: 1850},
	}
	pop := g.Refill(loaded, rng)

	if len(pop) != cfg.Evolution.PopulationSize {
		t.Fatalf("refilled population has %d agents, want %d",
			len(pop), cfg.Evolution.PopulationSize)
	}
	if pop[0].Elo != 1900 || pop[1].Elo != 1850 {
		t.Errorf("loaded agents lost their ratings: %v, %v", pop[0].Elo, pop[1].Elo)
	}
	for i := 2; i < len(pop); i++ {
		if _, ok := pop[i].MutationApplied.Value(); !ok {
			t.Errorf("refill offspring %d was not mutated", i)
		}
	}
}
