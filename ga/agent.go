// Package ga implements the genetic algorithm: Elo-rated agents, selection,
// uniform crossover, static and adaptive mutation, and per-generation
// population statistics.
package ga

import "github.com/pthm-cable/petri/neural"

// InitialElo is the rating every fresh agent starts with.
const InitialElo = 1500.0

// Optional is a float64 that may be absent. Diagnostic fields use it so
// "not yet evaluated" and "evaluated to zero" stay distinguishable.
type Optional struct {
	v  float64
	ok bool
}

// Some wraps a present value.
func Some(v float64) Optional {
	return Optional{v: v, ok: true}
}

// None is the absent value.
func None() Optional {
	return Optional{}
}

// Value returns the value and whether it is present.
func (o Optional) Value() (float64, bool) {
	return o.v, o.ok
}

// Or returns the value, or def when absent.
func (o Optional) Or(def float64) float64 {
	if o.ok {
		return o.v
	}
	return def
}

// Agent is one member of the population. The ID doubles as the agent's
// slot index in the batched layer's dense arrays; Evolve reassigns it.
type Agent struct {
	ID      int
	Policy  *neural.Policy
	Elo     float64
	Fitness float64

	// ParentElo is the mean parent rating recorded at crossover; it
	// drives adaptive mutation. MutationApplied records the sigma that
	// was actually used, for diagnostics.
	ParentElo       Optional
	MutationApplied Optional
}
