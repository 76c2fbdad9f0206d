package telemetry

import "log/slog"

// ConvergenceDetector implements the early stopping protocol: the entropy
// variance must first diverge above the threshold at least once, then stay
// below it for a full stability window to mark convergence, after which a
// post-convergence buffer of generations runs before the experiment stops.
//
// The divergence gate keeps a freshly initialized population, whose nearly
// identical policies start with near-zero variance, from being mistaken
// for a converged one.
type ConvergenceDetector struct {
	threshold  float64
	window     int
	postBuffer int

	diverged    bool
	belowStreak int
	convergedAt int // generation index, -1 until convergence
}

// NewConvergenceDetector creates a detector from experiment parameters.
func NewConvergenceDetector(threshold float64, window, postBuffer int) *ConvergenceDetector {
	if window < 1 {
		window = 1
	}
	return &ConvergenceDetector{
		threshold:   threshold,
		window:      window,
		postBuffer:  postBuffer,
		convergedAt: -1,
	}
}

// Observe feeds one generation's entropy variance. It returns true when
// the experiment should stop.
func (cd *ConvergenceDetector) Observe(generation int, entropyVariance float64) bool {
	if entropyVariance >= cd.threshold {
		cd.diverged = true
		cd.belowStreak = 0
	} else if cd.diverged && cd.convergedAt < 0 {
		cd.belowStreak++
		if cd.belowStreak >= cd.window {
			// Convergence is dated to the first generation of the streak.
			cd.convergedAt = generation - cd.window + 1
			slog.Info("population converged",
				"generation", cd.convergedAt,
				"entropy_variance", entropyVariance,
				"threshold", cd.threshold,
			)
		}
	}

	return cd.convergedAt >= 0 && generation >= cd.convergedAt+cd.window-1+cd.postBuffer
}

// Converged reports whether convergence has been detected.
func (cd *ConvergenceDetector) Converged() bool {
	return cd.convergedAt >= 0
}

// ConvergedAt returns the generation convergence was dated to, or -1.
func (cd *ConvergenceDetector) ConvergedAt() int {
	return cd.convergedAt
}
