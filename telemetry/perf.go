package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one generation of the experiment loop.
const (
	PhaseSimulate   = "simulate"
	PhaseMatches    = "matches"
	PhaseStats      = "stats"
	PhaseCheckpoint = "checkpoint"
	PhaseEvolve     = "evolve"
)

// PerfSample holds timing data for a single generation.
type PerfSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// PerfCollector tracks generation timing over a rolling window.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	genStart      time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a new performance collector.
// windowSize is the number of generations to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 10
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartGeneration begins timing a new generation.
func (p *PerfCollector) StartGeneration() {
	p.genStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase, ending the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndGeneration finishes timing and records the sample. It returns the
// generation's wall time.
func (p *PerfCollector) EndGeneration() time.Duration {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	sample := PerfSample{
		Duration: now.Sub(p.genStart),
		Phases:   p.currentPhases,
	}

	p.samples[p.writeIndex] = sample
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}

	return sample.Duration
}

// PerfStats holds aggregated timing statistics.
type PerfStats struct {
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration

	// Phase percentages of total generation time
	PhasePct map[string]float64

	GenerationsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{PhasePct: make(map[string]float64)}
	}

	var total time.Duration
	var min, max time.Duration
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration

		if i == 0 || s.Duration < min {
			min = s.Duration
		}
		if s.Duration > max {
			max = s.Duration
		}

		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)

	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		perGen := sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(perGen) / float64(avg) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgDuration:          avg,
		MinDuration:          min,
		MaxDuration:          max,
		PhasePct:             phasePct,
		GenerationsPerSecond: perSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_gen_ms", s.AvgDuration.Milliseconds()),
		slog.Int64("min_gen_ms", s.MinDuration.Milliseconds()),
		slog.Int64("max_gen_ms", s.MaxDuration.Milliseconds()),
		slog.Float64("gens_per_sec", s.GenerationsPerSecond),
	}
	for phase, pct := range s.PhasePct {
		attrs = append(attrs, slog.Float64(phase+"_pct", pct))
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of timing stats.
type PerfStatsCSV struct {
	Generation    int     `csv:"generation"`
	AvgGenMS      int64   `csv:"avg_gen_ms"`
	MinGenMS      int64   `csv:"min_gen_ms"`
	MaxGenMS      int64   `csv:"max_gen_ms"`
	GensPerSec    float64 `csv:"gens_per_sec"`
	SimulatePct   float64 `csv:"simulate_pct"`
	MatchesPct    float64 `csv:"matches_pct"`
	StatsPct      float64 `csv:"stats_pct"`
	CheckpointPct float64 `csv:"checkpoint_pct"`
	EvolvePct     float64 `csv:"evolve_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(generation int) PerfStatsCSV {
	return PerfStatsCSV{
		Generation:    generation,
		AvgGenMS:      s.AvgDuration.Milliseconds(),
		MinGenMS:      s.MinDuration.Milliseconds(),
		MaxGenMS:      s.MaxDuration.Milliseconds(),
		GensPerSec:    s.GenerationsPerSecond,
		SimulatePct:   s.PhasePct[PhaseSimulate],
		MatchesPct:    s.PhasePct[PhaseMatches],
		StatsPct:      s.PhasePct[PhaseStats],
		CheckpointPct: s.PhasePct[PhaseCheckpoint],
		EvolvePct:     s.PhasePct[PhaseEvolve],
	}
}
