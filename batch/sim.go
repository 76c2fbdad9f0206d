package batch

import (
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/neural"
	"github.com/pthm-cable/petri/world"
)

// Sim drives the batched tick loop: sense, batched forward pass, apply
// actions, physics, food, projectiles. One Sim is reused across
// generations; buffers are reallocated only when the population size
// changes.
type Sim struct {
	dish     *world.Dish
	state    *State
	ensemble *Ensemble
	sensor   *Sensor

	inputs  []float32
	outputs []float32

	inputSize  int
	outputSize int
}

// NewSim creates a batched simulation over the dish for n agents.
func NewSim(cfg *config.Config, dish *world.Dish, n int) *Sim {
	arch := neural.Arch{
		InputSize:    cfg.Network.InputSize,
		HiddenLayers: cfg.Network.HiddenLayers,
		OutputSize:   cfg.Network.OutputSize,
	}
	s := &Sim{
		dish:       dish,
		state:      NewState(cfg, n),
		ensemble:   NewEnsemble(arch, n),
		sensor:     NewSensor(cfg),
		inputSize:  cfg.Network.InputSize,
		outputSize: cfg.Network.OutputSize,
	}
	s.allocIO(n)
	return s
}

func (s *Sim) allocIO(n int) {
	s.inputs = make([]float32, n*s.inputSize)
	s.outputs = make([]float32, n*s.outputSize)
}

// Dish returns the underlying world.
func (s *Sim) Dish() *world.Dish {
	return s.dish
}

// State returns the dense agent state.
func (s *Sim) State() *State {
	return s.state
}

// Resize adjusts all buffers for a new population size. Explicit; a resync
// is required afterwards.
func (s *Sim) Resize(n int) {
	if n == s.state.N() {
		return
	}
	s.state.Resize(n)
	s.ensemble.Resize(n)
	s.allocIO(n)
}

// Sync loads the stacked weight tensors from the population's policies.
// Must be called whenever the genetic algorithm replaces the population.
func (s *Sim) Sync(policies []*neural.Policy) error {
	return s.ensemble.Sync(policies)
}

// Load copies the bodies into the dense state at generation start.
func (s *Sim) Load(bodies []*world.Body) {
	s.state.Load(bodies)
}

// Flush writes the dense state back into the bodies.
func (s *Sim) Flush(bodies []*world.Body) {
	s.state.Flush(bodies)
}

// Tick advances the simulation one step. The phase order mirrors the
// sequential formulation: all live agents sense and act on the pre-tick
// positions, then physics integrates, then food and projectile collisions
// resolve, then the food respawn timer advances.
func (s *Sim) Tick() {
	s.state.RefreshFood(s.dish)
	s.sensor.Sense(s.dish, s.state, s.inputs)
	s.ensemble.Forward(s.inputs, s.outputs)
	s.state.ApplyActions(s.dish, s.outputs)

	s.dish.BeginTick()
	s.state.StepPhysics(s.dish)
	s.state.ResolveFood(s.dish)
	s.state.ResolveShots(s.dish)
	s.dish.FinishTick()
}

// AliveCount returns the number of live agents.
func (s *Sim) AliveCount() int {
	n := 0
	for _, a := range s.state.Alive {
		if a {
			n++
		}
	}
	return n
}
