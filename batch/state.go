package batch

import (
	"math"

	"github.com/pthm-cable/petri/components"
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/world"
)

// State holds the population's physical state as dense arrays, the derived
// cache of the per-agent Body objects. Load and Flush move state between
// the two representations; within a generation the dense arrays are
// authoritative for the batched tick loop.
type State struct {
	n int

	X, Y     []float32
	VX, VY   []float32
	Angle    []float32
	Energy   []float32
	ShootCD  []int32
	SplitCD  []int32
	Alive    []bool

	// physics constants, copied once from config
	dt, friction  float32
	maxVelocity   float32
	thrustForce   float32
	turnRate      float32
	energyDecay   float32
	shootCooldown int32
	splitCooldown int32

	// pellet mirror, refreshed when the dish's food epoch changes.
	// The component pointers stay valid between respawns: pellets are
	// only removed wholesale, which bumps the epoch.
	foodX, foodY []float32
	pellets      []*components.Pellet
	foodEpoch    int
}

// NewState creates a dense state for n agents.
func NewState(cfg *config.Config, n int) *State {
	s := &State{
		dt:            float32(cfg.Physics.DT),
		friction:      float32(cfg.Physics.Friction),
		maxVelocity:   float32(cfg.Agent.MaxVelocity),
		thrustForce:   float32(cfg.Agent.ThrustForce),
		turnRate:      float32(cfg.Agent.TurnRate),
		energyDecay:   float32(cfg.Agent.EnergyDecay),
		shootCooldown: int32(cfg.Agent.ShootCooldown),
		splitCooldown: int32(cfg.Agent.SplitCooldown),
		foodEpoch:     -1,
	}
	s.alloc(n)
	return s
}

func (s *State) alloc(n int) {
	s.n = n
	s.X = make([]float32, n)
	s.Y = make([]float32, n)
	s.VX = make([]float32, n)
	s.VY = make([]float32, n)
	s.Angle = make([]float32, n)
	s.Energy = make([]float32, n)
	s.ShootCD = make([]int32, n)
	s.SplitCD = make([]int32, n)
	s.Alive = make([]bool, n)
}

// N returns the number of agent slots.
func (s *State) N() int {
	return s.n
}

// Resize reallocates the arrays for a new population size. Explicit, like
// Ensemble.Resize.
func (s *State) Resize(n int) {
	if n == s.n {
		return
	}
	s.alloc(n)
}

// Load copies the bodies into the dense arrays. len(bodies) must equal N.
func (s *State) Load(bodies []*world.Body) {
	for i, b := range bodies {
		s.X[i] = b.X
		s.Y[i] = b.Y
		s.VX[i] = b.VX
		s.VY[i] = b.VY
		s.Angle[i] = b.Angle
		s.Energy[i] = b.Energy
		s.ShootCD[i] = b.ShootCooldown
		s.SplitCD[i] = b.SplitCooldown
		s.Alive[i] = b.Energy > 0
	}
}

// Flush copies the dense arrays back into the bodies.
func (s *State) Flush(bodies []*world.Body) {
	for i, b := range bodies {
		b.X = s.X[i]
		b.Y = s.Y[i]
		b.VX = s.VX[i]
		b.VY = s.VY[i]
		b.Angle = s.Angle[i]
		b.Energy = s.Energy[i]
		b.ShootCooldown = s.ShootCD[i]
		b.SplitCooldown = s.SplitCD[i]
	}
}

// RefreshFood re-mirrors pellet positions from the dish if the food set
// was regenerated since the last call.
func (s *State) RefreshFood(d *world.Dish) {
	if d.FoodEpoch() == s.foodEpoch {
		return
	}
	s.foodX = s.foodX[:0]
	s.foodY = s.foodY[:0]
	s.pellets = s.pellets[:0]
	d.VisitPellets(func(pos *components.Position, p *components.Pellet) {
		s.foodX = append(s.foodX, pos.X)
		s.foodY = append(s.foodY, pos.Y)
		s.pellets = append(s.pellets, p)
	})
	s.foodEpoch = d.FoodEpoch()
}

// ApplyActions applies the clamped policy outputs to every live agent:
// turn, then thrust along the new heading if above the deadzone, then the
// shoot and split triggers. outputs is [agent][4] row-major, raw network
// values; clamping to the action domains happens here so the batched path
// matches Policy.Act exactly.
func (s *State) ApplyActions(d *world.Dish, outputs []float32) {
	for i := 0; i < s.n; i++ {
		if !s.Alive[i] {
			continue
		}
		thrust := clampf(outputs[i*4+0], 0, 1)
		turn := clampf(outputs[i*4+1], -1, 1)
		shoot := clampf(outputs[i*4+2], 0, 1)
		split := clampf(outputs[i*4+3], 0, 1)

		s.Angle[i] += turn * s.turnRate

		if thrust > world.ThrustDeadzone {
			mag := thrust * s.thrustForce
			s.VX[i] += float32(math.Cos(float64(s.Angle[i]))) * mag
			s.VY[i] += float32(math.Sin(float64(s.Angle[i]))) * mag
		}

		if shoot > world.TriggerLevel && s.ShootCD[i] == 0 {
			d.FireShot(i, s.X[i], s.Y[i], s.Angle[i])
			s.ShootCD[i] = s.shootCooldown
		}

		if split > world.TriggerLevel && s.SplitCD[i] == 0 {
			s.SplitCD[i] = s.splitCooldown
		}
	}
}

// StepPhysics advances every live agent one tick: metabolic decay,
// friction, velocity clamp, integration, wrap. Cooldowns decay for all
// agents. The alive mask is recomputed after the decay.
func (s *State) StepPhysics(d *world.Dish) {
	for i := 0; i < s.n; i++ {
		if s.Alive[i] {
			s.Energy[i] -= s.energyDecay * s.dt

			s.VX[i] *= 1 - s.friction
			s.VY[i] *= 1 - s.friction

			speed := float32(math.Sqrt(float64(s.VX[i]*s.VX[i] + s.VY[i]*s.VY[i])))
			if speed > s.maxVelocity {
				s.VX[i] = s.VX[i] / speed * s.maxVelocity
				s.VY[i] = s.VY[i] / speed * s.maxVelocity
			}

			s.X[i] += s.VX[i] * s.dt
			s.Y[i] += s.VY[i] * s.dt
			s.X[i], s.Y[i] = d.Wrap(s.X[i], s.Y[i])

			s.Alive[i] = s.Energy[i] > 0
		}

		if s.ShootCD[i] > 0 {
			s.ShootCD[i]--
		}
		if s.SplitCD[i] > 0 {
			s.SplitCD[i]--
		}
	}
}

// ResolveFood consumes pellets touched by live agents, scattering energy
// back into the dense arrays and flipping pellet states in the dish. The
// winner of each pellet is the lowest-index colliding live agent, the same
// tie-break as the sequential population-order loop.
func (s *State) ResolveFood(d *world.Dish) {
	reach := d.FoodReach()
	reach2 := reach * reach

	for fi, p := range s.pellets {
		if p.State != components.PelletAvailable {
			continue
		}
		fx, fy := s.foodX[fi], s.foodY[fi]
		for i := 0; i < s.n; i++ {
			if !s.Alive[i] {
				continue
			}
			dx, dy := d.Delta(s.X[i], s.Y[i], fx, fy)
			if dx*dx+dy*dy < reach2 {
				s.Energy[i] += p.EnergyValue
				p.State = components.PelletConsumed
				break
			}
		}
	}
}

// ResolveShots advances the dish's projectiles against the dense arrays.
// The alive mask is updated as damage lands, within the same tick.
func (s *State) ResolveShots(d *world.Dish) {
	reach := d.ShotReach()
	reach2 := reach * reach

	d.StepShots(func(x, y, damage float32, ownerID int) bool {
		for i := 0; i < s.n; i++ {
			if !s.Alive[i] || i == ownerID {
				continue
			}
			dx, dy := d.Delta(s.X[i], s.Y[i], x, y)
			if dx*dx+dy*dy < reach2 {
				s.Energy[i] -= damage
				s.Alive[i] = s.Energy[i] > 0
				return true
			}
		}
		return false
	})
}

// clampf limits x to [lo, hi].
func clampf(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
