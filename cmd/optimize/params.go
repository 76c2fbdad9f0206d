// Package main provides CMA-ES tuning of evolution hyperparameters.
package main

import (
	"github.com/pthm-cable/petri/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of tunable hyperparameters.
// Network architecture and world geometry are locked; tuning them would
// invalidate checkpoint compatibility across runs.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Evolution
			{Name: "selection_pressure", Path: "evolution.selection_pressure", Min: 0.05, Max: 0.6, Default: 0.2},
			{Name: "elite_fraction", Path: "evolution.elite_fraction", Min: 0.02, Max: 0.4, Default: 0.1},
			{Name: "mutation_rate", Path: "evolution.mutation_rate", Min: 0.005, Max: 0.3, Default: 0.05},
			{Name: "mutation_base", Path: "evolution.mutation_base", Min: 0.02, Max: 0.3, Default: 0.1},
			{Name: "elo_k", Path: "evolution.elo_k", Min: 8, Max: 64, Default: 32},
			// Environment pressure
			{Name: "food_spawn_count", Path: "food.spawn_count", Min: 10, Max: 200, Default: 50},
			{Name: "food_energy_value", Path: "food.energy_value", Min: 2, Max: 30, Default: 10},
			{Name: "energy_decay", Path: "agent.energy_decay", Min: 0.02, Max: 0.5, Default: 0.1},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	i := 0
	cfg.Evolution.SelectionPressure = clamped[i]; i++
	cfg.Evolution.EliteFraction = clamped[i]; i++
	cfg.Evolution.MutationRate = clamped[i]; i++
	cfg.Evolution.MutationBase = clamped[i]; i++
	cfg.Evolution.EloK = clamped[i]; i++

	cfg.Food.SpawnCount = int(clamped[i]); i++
	cfg.Food.EnergyValue = clamped[i]; i++
	cfg.Agent.EnergyDecay = clamped[i]

	cfg.ComputeDerived()
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Evolution.SelectionPressure,
		cfg.Evolution.EliteFraction,
		cfg.Evolution.MutationRate,
		cfg.Evolution.MutationBase,
		cfg.Evolution.EloK,
		float64(cfg.Food.SpawnCount),
		cfg.Food.EnergyValue,
		cfg.Agent.EnergyDecay,
	}
}
