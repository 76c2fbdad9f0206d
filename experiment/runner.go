// Package experiment orchestrates the generation loop: simulate a
// generation in the batched layer, score fitness, rank the population
// through pairwise matches, evolve, and resync the stacked weights.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/pthm-cable/petri/batch"
	"github.com/pthm-cable/petri/checkpoint"
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/ga"
	"github.com/pthm-cable/petri/neural"
	"github.com/pthm-cable/petri/telemetry"
	"github.com/pthm-cable/petri/world"
)

// Hooks are the runner's boundary to orchestration layers. All are
// optional; nil hooks are skipped.
type Hooks struct {
	// OnGeneration receives the flattened stats record after each
	// generation, before evolution replaces the population.
	OnGeneration func(rec telemetry.GenerationRecord)

	// OnCheckpoint receives a payload every checkpoint interval and at
	// the final generation.
	OnCheckpoint func(ctx context.Context, p checkpoint.Payload) error

	// ShouldStop is polled between generations; returning true aborts
	// the run cleanly (job reclaimed, shutdown requested).
	ShouldStop func() bool
}

// Runner owns one experiment: the world, the batched simulation, the
// genetic algorithm, and the convergence detector.
type Runner struct {
	cfg     *config.Config
	genetic *ga.Genetic
	dish    *world.Dish
	sim     *batch.Sim

	pop    []*ga.Agent
	bodies []*world.Body

	// Independent RNG streams per randomized stage, all derived from the
	// configured seed so a run is reproducible end to end.
	spawnRNG  *rand.Rand
	matchRNG  *rand.Rand
	statsRNG  *rand.Rand
	evolveRNG *rand.Rand

	detector *telemetry.ConvergenceDetector
	perf     *telemetry.PerfCollector

	generation int
	hooks      Hooks
	synced     bool
}

// NewRunner builds a runner with a fresh random population.
func NewRunner(cfg *config.Config, hooks Hooks) (*Runner, error) {
	genetic, err := ga.NewGenetic(cfg)
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}

	seed := cfg.Experiment.RandomSeed
	master := rand.New(rand.NewSource(seed))
	worldRNG := rand.New(rand.NewSource(master.Int63()))
	initRNG := rand.New(rand.NewSource(master.Int63()))

	n := cfg.Evolution.PopulationSize
	dish := world.NewDish(cfg, worldRNG)

	r := &Runner{
		cfg:       cfg,
		genetic:   genetic,
		dish:      dish,
		sim:       batch.NewSim(cfg, dish, n),
		spawnRNG:  rand.New(rand.NewSource(master.Int63())),
		matchRNG:  rand.New(rand.NewSource(master.Int63())),
		statsRNG:  rand.New(rand.NewSource(master.Int63())),
		evolveRNG: rand.New(rand.NewSource(master.Int63())),
		detector: telemetry.NewConvergenceDetector(
			cfg.Experiment.ConvergenceVar,
			cfg.Experiment.StabilityWindow,
			cfg.Experiment.PostConvergence,
		),
		perf:  telemetry.NewPerfCollector(10),
		hooks: hooks,
	}

	r.pop = genetic.InitPopulation(initRNG)
	r.bodies = make([]*world.Body, n)
	for i := range r.bodies {
		r.bodies[i] = &world.Body{ID: i}
	}

	return r, nil
}

// Resume replaces the fresh population with one restored from a
// checkpoint payload, refilling missing slots by crossover and mutation
// over the loaded top performers. The next generation to run is the one
// after the checkpointed generation.
func (r *Runner) Resume(p checkpoint.Payload) error {
	loaded, err := p.ToAgents(r.genetic.Arch())
	if err != nil {
		return fmt.Errorf("experiment: resuming: %w", err)
	}
	if len(loaded) == 0 {
		return fmt.Errorf("experiment: resuming: checkpoint holds no agents")
	}

	r.genetic.ObserveElo(p.MaxGlobalElo)
	r.pop = r.genetic.Refill(loaded, r.evolveRNG)
	r.generation = p.Generation + 1
	r.synced = false

	slog.Info("resumed from checkpoint",
		"generation", p.Generation,
		"loaded_agents", len(loaded),
		"max_global_elo", p.MaxGlobalElo,
	)
	return nil
}

// Generation returns the index of the next generation to run.
func (r *Runner) Generation() int {
	return r.generation
}

// Population returns the current population.
func (r *Runner) Population() []*ga.Agent {
	return r.pop
}

// Detector returns the convergence detector.
func (r *Runner) Detector() *telemetry.ConvergenceDetector {
	return r.detector
}

// Perf returns the phase timing collector.
func (r *Runner) Perf() *telemetry.PerfCollector {
	return r.perf
}

// RunGeneration executes one full generation and returns its stats
// record. The population is replaced on return; the record describes the
// generation that just finished.
func (r *Runner) RunGeneration(ctx context.Context) (telemetry.GenerationRecord, error) {
	gen := r.generation
	r.perf.StartGeneration()

	if !r.synced {
		if err := r.syncEnsemble(); err != nil {
			return telemetry.GenerationRecord{}, err
		}
	}

	r.perf.StartPhase(telemetry.PhaseSimulate)
	r.resetBodies()
	r.dish.Reset()
	r.sim.Load(r.bodies)

	ticks := r.cfg.Experiment.TicksPerGeneration
	for t := 0; t < ticks; t++ {
		if err := ctx.Err(); err != nil {
			return telemetry.GenerationRecord{}, fmt.Errorf("experiment: generation %d: %w", gen, err)
		}
		r.sim.Tick()
	}
	survivors := r.sim.AliveCount()
	r.sim.Flush(r.bodies)

	// Fitness rewards survival: a full-generation bonus on top of the
	// remaining energy, zero for the dead.
	for i, a := range r.pop {
		e := float64(r.bodies[i].Energy)
		if e > 0 {
			a.Fitness = e + float64(ticks)
		} else {
			a.Fitness = 0
		}
	}

	r.perf.StartPhase(telemetry.PhaseMatches)
	r.runMatches()

	r.perf.StartPhase(telemetry.PhaseStats)
	stats := r.genetic.Stats(r.pop, r.statsRNG)
	rec := telemetry.NewGenerationRecord(gen, stats, r.genetic.MaxGlobalElo(), len(r.pop), survivors, 0)

	r.perf.StartPhase(telemetry.PhaseCheckpoint)
	if err := r.maybeCheckpoint(ctx, gen); err != nil {
		return telemetry.GenerationRecord{}, err
	}

	r.perf.StartPhase(telemetry.PhaseEvolve)
	r.pop = r.genetic.Evolve(r.pop, r.evolveRNG)
	r.synced = false

	rec.WallTimeMS = r.perf.EndGeneration().Milliseconds()
	if r.hooks.OnGeneration != nil {
		r.hooks.OnGeneration(rec)
	}
	r.generation++
	return rec, nil
}

// Result summarizes a finished experiment.
type Result struct {
	Generations int
	Converged   bool
	ConvergedAt int
	Aborted     bool
}

// RunExperiment runs generations until the maximum count, the early
// stopping protocol, an abort hook, or context cancellation.
func (r *Runner) RunExperiment(ctx context.Context) (Result, error) {
	var res Result

	for r.generation < r.cfg.Experiment.MaxGenerations {
		if r.hooks.ShouldStop != nil && r.hooks.ShouldStop() {
			res.Aborted = true
			break
		}
		if err := ctx.Err(); err != nil {
			res.Aborted = true
			break
		}

		rec, err := r.RunGeneration(ctx)
		if err != nil {
			return res, err
		}
		res.Generations++

		slog.Info("generation complete", "stats", rec)

		if r.detector.Observe(rec.Generation, rec.EntropyVariance) {
			break
		}
	}

	res.Converged = r.detector.Converged()
	res.ConvergedAt = r.detector.ConvergedAt()

	// Final checkpoint regardless of the interval.
	if r.hooks.OnCheckpoint != nil && res.Generations > 0 {
		p := r.snapshot(r.generation - 1)
		if err := r.hooks.OnCheckpoint(ctx, p); err != nil {
			return res, fmt.Errorf("experiment: final checkpoint: %w", err)
		}
	}

	return res, nil
}

// resetBodies places every agent at a uniform random position with full
// energy and cleared cooldowns.
func (r *Runner) resetBodies() {
	w, h := r.dish.Size()
	for i, b := range r.bodies {
		b.ID = i
		b.X = r.spawnRNG.Float32() * w
		b.Y = r.spawnRNG.Float32() * h
		b.VX, b.VY = 0, 0
		b.Angle = r.spawnRNG.Float32() * 2 * math.Pi
		b.Energy = float32(r.cfg.Agent.InitialEnergy)
		b.ShootCooldown = 0
		b.SplitCooldown = 0
	}
}

func (r *Runner) syncEnsemble() error {
	policies := make([]*neural.Policy, len(r.pop))
	for i, a := range r.pop {
		policies[i] = a.Policy
	}
	if err := r.sim.Sync(policies); err != nil {
		return fmt.Errorf("experiment: syncing weights: %w", err)
	}
	r.synced = true
	return nil
}

// runMatches plays elo_matches random distinct pairs; the outcome is a
// fitness comparison (win 1, loss 0, tie 0.5).
func (r *Runner) runMatches() {
	n := len(r.pop)
	if n < 2 {
		return
	}
	for m := 0; m < r.cfg.Evolution.EloMatches; m++ {
		i := r.matchRNG.Intn(n)
		j := r.matchRNG.Intn(n - 1)
		if j >= i {
			j++
		}

		a, b := r.pop[i], r.pop[j]
		var score float64
		switch {
		case a.Fitness > b.Fitness:
			score = 1
		case a.Fitness < b.Fitness:
			score = 0
		default:
			score = 0.5
		}
		r.genetic.UpdateElo(a, b, score)
	}
}

func (r *Runner) maybeCheckpoint(ctx context.Context, gen int) error {
	if r.hooks.OnCheckpoint == nil {
		return nil
	}
	interval := r.cfg.Experiment.CheckpointInterval
	if interval <= 0 || gen%interval != 0 {
		return nil
	}
	if err := r.hooks.OnCheckpoint(ctx, r.snapshot(gen)); err != nil {
		return fmt.Errorf("experiment: checkpoint at generation %d: %w", gen, err)
	}
	return nil
}

func (r *Runner) snapshot(gen int) checkpoint.Payload {
	return checkpoint.Snapshot(
		gen,
		r.genetic.MaxGlobalElo(),
		r.pop,
		r.genetic.Arch(),
		r.cfg.Experiment.CheckpointTopK,
	)
}
