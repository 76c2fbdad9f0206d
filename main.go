package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pthm-cable/petri/checkpoint"
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/experiment"
	"github.com/pthm-cable/petri/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	checkpointDB := flag.String("checkpoint-db", "", "SQLite checkpoint database path (empty = no local checkpoints)")
	experimentID := flag.String("experiment-id", "", "Experiment identifier (empty = random)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config)")
	maxGenerations := flag.Int("max-generations", 0, "Stop after N generations (0 = use config)")
	resume := flag.Bool("resume", false, "Resume from the latest local checkpoint")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *seed != 0 {
		cfg.Experiment.RandomSeed = *seed
	}
	if *maxGenerations > 0 {
		cfg.Experiment.MaxGenerations = *maxGenerations
	}
	cfg.ComputeDerived()

	expID := *experimentID
	if expID == "" {
		expID = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, expID, *outputDir, *checkpointDB, *resume); err != nil {
		slog.Error("experiment failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, expID, outputDir, checkpointDB string, resume bool) error {
	output, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		return err
	}

	var store *checkpoint.Store
	if checkpointDB != "" {
		store = checkpoint.NewStore(checkpointDB)
		if err := store.Init(ctx); err != nil {
			return err
		}
		defer store.Close()
	}

	milestones := telemetry.NewMilestoneDetector(10)

	var runner *experiment.Runner
	hooks := experiment.Hooks{
		OnGeneration: func(rec telemetry.GenerationRecord) {
			if err := output.WriteGeneration(rec); err != nil {
				slog.Warn("writing generation record", "error", err)
			}
			if err := output.WritePerf(runner.Perf().Stats(), rec.Generation); err != nil {
				slog.Warn("writing perf record", "error", err)
			}
			for _, m := range milestones.Check(rec, runner.Detector().ConvergedAt()) {
				m.Log()
				if err := output.WriteMilestone(m); err != nil {
					slog.Warn("writing milestone", "error", err)
				}
			}
		},
		OnCheckpoint: func(ctx context.Context, p checkpoint.Payload) error {
			if store == nil {
				return nil
			}
			return store.Save(ctx, expID, p)
		},
	}

	runner, err = experiment.NewRunner(cfg, hooks)
	if err != nil {
		return err
	}

	if resume && store != nil {
		p, ok, err := store.Latest(ctx, expID)
		if err != nil {
			return err
		}
		if ok {
			if err := runner.Resume(p); err != nil {
				return err
			}
		} else {
			slog.Info("no checkpoint found, starting fresh", "experiment_id", expID)
		}
	}

	slog.Info("starting experiment",
		"experiment_id", expID,
		"seed", cfg.Experiment.RandomSeed,
		"population_size", cfg.Evolution.PopulationSize,
		"max_generations", cfg.Experiment.MaxGenerations,
		"first_generation", runner.Generation(),
	)

	start := time.Now()
	res, err := runner.RunExperiment(ctx)
	if err != nil {
		return err
	}

	slog.Info("experiment finished",
		"experiment_id", expID,
		"generations", res.Generations,
		"converged", res.Converged,
		"converged_at", res.ConvergedAt,
		"aborted", res.Aborted,
		"elapsed", time.Since(start).Round(time.Second).String(),
	)
	return nil
}
