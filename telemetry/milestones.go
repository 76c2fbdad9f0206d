package telemetry

import (
	"fmt"
	"log/slog"
)

// MilestoneType identifies the kind of milestone.
type MilestoneType string

const (
	MilestoneEloBreakthrough   MilestoneType = "elo_breakthrough"
	MilestoneFitnessRecord     MilestoneType = "fitness_record"
	MilestoneDiversityCollapse MilestoneType = "diversity_collapse"
	MilestoneConvergence       MilestoneType = "convergence"
)

// Milestone marks a notable generation in the run.
type Milestone struct {
	Type        MilestoneType `csv:"type"`
	Generation  int           `csv:"generation"`
	Description string        `csv:"description"`
}

// Log emits the milestone via slog.
func (m Milestone) Log() {
	slog.Info("milestone",
		"type", string(m.Type),
		"generation", m.Generation,
		"description", m.Description,
	)
}

// MilestoneDetector flags notable generations from the record stream.
type MilestoneDetector struct {
	// Rolling history (circular buffer)
	history     []GenerationRecord
	historySize int
	historyIdx  int
	historyFull bool

	bestPeakElo    float64
	bestMaxFitness float64
	convergenceSet bool
}

// NewMilestoneDetector creates a detector with the given history size.
func NewMilestoneDetector(historySize int) *MilestoneDetector {
	if historySize < 5 {
		historySize = 5
	}
	return &MilestoneDetector{
		history:     make([]GenerationRecord, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest record and returns any triggered milestones.
func (md *MilestoneDetector) Check(rec GenerationRecord, convergedAt int) []Milestone {
	var milestones []Milestone

	if m := md.checkEloBreakthrough(rec); m != nil {
		milestones = append(milestones, *m)
	}
	if m := md.checkFitnessRecord(rec); m != nil {
		milestones = append(milestones, *m)
	}
	if m := md.checkDiversityCollapse(rec); m != nil {
		milestones = append(milestones, *m)
	}
	if convergedAt >= 0 && !md.convergenceSet {
		md.convergenceSet = true
		milestones = append(milestones, Milestone{
			Type:        MilestoneConvergence,
			Generation:  convergedAt,
			Description: fmt.Sprintf("Entropy variance %.4g settled below threshold", rec.EntropyVariance),
		})
	}

	md.addToHistory(rec)
	return milestones
}

func (md *MilestoneDetector) addToHistory(rec GenerationRecord) {
	md.history[md.historyIdx] = rec
	md.historyIdx = (md.historyIdx + 1) % md.historySize
	if md.historyIdx == 0 {
		md.historyFull = true
	}
}

func (md *MilestoneDetector) getHistory() []GenerationRecord {
	if md.historyFull {
		return md.history
	}
	return md.history[:md.historyIdx]
}

// checkEloBreakthrough triggers when the peak rating beats the previous
// best by at least half a K-factor's worth of rating.
func (md *MilestoneDetector) checkEloBreakthrough(rec GenerationRecord) *Milestone {
	const margin = 16.0
	if md.bestPeakElo == 0 {
		md.bestPeakElo = rec.PeakElo
		return nil
	}
	if rec.PeakElo >= md.bestPeakElo+margin {
		old := md.bestPeakElo
		md.bestPeakElo = rec.PeakElo
		return &Milestone{
			Type:        MilestoneEloBreakthrough,
			Generation:  rec.Generation,
			Description: fmt.Sprintf("Peak Elo rose from %.0f to %.0f", old, rec.PeakElo),
		}
	}
	return nil
}

func (md *MilestoneDetector) checkFitnessRecord(rec GenerationRecord) *Milestone {
	if len(md.getHistory()) == 0 {
		md.bestMaxFitness = rec.MaxFitness
		return nil
	}
	if rec.MaxFitness > md.bestMaxFitness {
		old := md.bestMaxFitness
		md.bestMaxFitness = rec.MaxFitness
		return &Milestone{
			Type:        MilestoneFitnessRecord,
			Generation:  rec.Generation,
			Description: fmt.Sprintf("Best fitness rose from %.1f to %.1f", old, rec.MaxFitness),
		}
	}
	return nil
}

// checkDiversityCollapse triggers when diversity falls below half the
// rolling average, an early warning before the entropy signal converges.
func (md *MilestoneDetector) checkDiversityCollapse(rec GenerationRecord) *Milestone {
	history := md.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.Diversity
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if rec.Diversity < avg*0.5 {
		return &Milestone{
			Type:        MilestoneDiversityCollapse,
			Generation:  rec.Generation,
			Description: fmt.Sprintf("Diversity %.3f is below half the rolling average %.3f", rec.Diversity, avg),
		}
	}
	return nil
}
