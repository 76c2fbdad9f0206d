// Package world implements the petri dish: a deterministic 2D toroidal
// environment with food pellets, projectiles and raycast perception.
package world

import (
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/petri/components"
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/neural"
)

// Action thresholds. Thrust below the deadzone is ignored; shoot and split
// fire when the signal crosses the trigger level and the cooldown is zero.
const (
	ThrustDeadzone = 0.1
	TriggerLevel   = 0.5
)

// Body is the physical state of one agent in the dish. Bodies are owned by
// the caller; the dish only reads and mutates them during Step.
type Body struct {
	ID            int
	X, Y          float32
	VX, VY        float32
	Angle         float32
	Energy        float32
	ShootCooldown int32
	SplitCooldown int32
}

// Alive reports whether the body still has energy.
func (b *Body) Alive() bool {
	return b.Energy > 0
}

// StepInfo summarizes the dish state after one tick.
type StepInfo struct {
	Tick          int32
	FoodAvailable int
	ShotsInFlight int
}

// Dish is the simulation environment. Food pellets and projectiles live in
// an ECS world; agent bodies are passed in by the caller each tick.
type Dish struct {
	width, height float32
	toroidal      bool

	dt, friction float32
	maxVelocity  float32
	thrustForce  float32
	turnRate     float32

	agentRadius float32
	energyDecay float32

	foodRadius  float32
	foodEnergy  float32
	foodCount   int
	respawnTime int32

	shotRadius    float32
	shotSpeed     float32
	shotDamage    float32
	shotLifetime  int32
	shootCooldown int32
	splitCooldown int32

	world        *ecs.World
	pelletMapper *ecs.Map2[components.Position, components.Pellet]
	pelletFilter *ecs.Filter2[components.Position, components.Pellet]
	shotMapper   *ecs.Map3[components.Position, components.Velocity, components.Shot]
	shotFilter   *ecs.Filter3[components.Position, components.Velocity, components.Shot]

	rayAngles []float32 // radians, precomputed from config

	tick         int32
	respawnTimer int32
	foodEpoch    int

	rng *rand.Rand
}

// NewDish creates a dish from the config and spawns the initial food set.
// The RNG drives food placement and nothing else.
func NewDish(cfg *config.Config, rng *rand.Rand) *Dish {
	world := ecs.NewWorld()

	d := &Dish{
		width:    float32(cfg.Dish.Width),
		height:   float32(cfg.Dish.Height),
		toroidal: cfg.Dish.Toroidal,

		dt:          float32(cfg.Physics.DT),
		friction:    float32(cfg.Physics.Friction),
		maxVelocity: float32(cfg.Agent.MaxVelocity),
		thrustForce: float32(cfg.Agent.ThrustForce),
		turnRate:    float32(cfg.Agent.TurnRate),

		agentRadius: float32(cfg.Agent.Radius),
		energyDecay: float32(cfg.Agent.EnergyDecay),

		foodRadius:  float32(cfg.Food.Radius),
		foodEnergy:  float32(cfg.Food.EnergyValue),
		foodCount:   cfg.Food.SpawnCount,
		respawnTime: int32(cfg.Food.RespawnTime),

		shotRadius:    float32(cfg.Projectile.Radius),
		shotSpeed:     float32(cfg.Projectile.Speed),
		shotDamage:    float32(cfg.Projectile.Damage),
		shotLifetime:  int32(cfg.Projectile.Lifetime),
		shootCooldown: int32(cfg.Agent.ShootCooldown),
		splitCooldown: int32(cfg.Agent.SplitCooldown),

		world: world,
		pelletMapper: ecs.NewMap2[
			components.Position,
			components.Pellet,
		](world),
		pelletFilter: ecs.NewFilter2[
			components.Position,
			components.Pellet,
		](world),
		shotMapper: ecs.NewMap3[
			components.Position,
			components.Velocity,
			components.Shot,
		](world),
		shotFilter: ecs.NewFilter3[
			components.Position,
			components.Velocity,
			components.Shot,
		](world),

		rayAngles: RayAngles(cfg.Raycast.Count),

		rng: rng,
	}

	d.spawnFood()
	return d
}

// RayAngles returns count angles evenly spaced over [0, 360] degrees,
// inclusive of both endpoints, converted to radians. With both endpoints
// included the first and last ray coincide; this matches the reference
// sensing layout and is kept for reproducibility.
func RayAngles(count int) []float32 {
	angles := make([]float32, count)
	if count == 1 {
		return angles
	}
	step := 2 * math.Pi / float64(count-1)
	for i := range angles {
		angles[i] = float32(float64(i) * step)
	}
	return angles
}

// Tick returns the current tick counter.
func (d *Dish) Tick() int32 {
	return d.tick
}

// Size returns the dish dimensions.
func (d *Dish) Size() (width, height float32) {
	return d.width, d.height
}

// Toroidal reports whether positions wrap at the dish edges.
func (d *Dish) Toroidal() bool {
	return d.toroidal
}

// FoodRadius returns the pellet radius.
func (d *Dish) FoodRadius() float32 {
	return d.foodRadius
}

// FoodEpoch increments every time the food set is regenerated. Callers that
// mirror pellet positions can use it to detect when their copy is stale.
func (d *Dish) FoodEpoch() int {
	return d.foodEpoch
}

// Wrap maps a position into [0,width)x[0,height) when toroidal, or clamps
// to the bounds otherwise. Wrapping an in-bounds position is a no-op.
func (d *Dish) Wrap(x, y float32) (float32, float32) {
	if d.toroidal {
		x = mod(x, d.width)
		y = mod(y, d.height)
	} else {
		x = clampf(x, 0, d.width)
		y = clampf(y, 0, d.height)
	}
	return x, y
}

// Delta returns the signed shortest displacement from (x1,y1) to (x2,y2),
// accounting for toroidal wrapping.
func (d *Dish) Delta(x1, y1, x2, y2 float32) (dx, dy float32) {
	dx = x2 - x1
	dy = y2 - y1
	if d.toroidal {
		if dx > d.width/2 {
			dx -= d.width
		} else if dx < -d.width/2 {
			dx += d.width
		}
		if dy > d.height/2 {
			dy -= d.height
		} else if dy < -d.height/2 {
			dy += d.height
		}
	}
	return dx, dy
}

// Distance returns the toroidal distance between two points.
func (d *Dish) Distance(x1, y1, x2, y2 float32) float32 {
	dx, dy := d.Delta(x1, y1, x2, y2)
	return float32(math.Sqrt(float64(dx*dx + dy*dy)))
}

// Reset clears projectiles, regenerates the food set and resets timers.
func (d *Dish) Reset() {
	d.tick = 0
	d.respawnTimer = 0
	d.clearShots()
	d.spawnFood()
}

// ApplyAction applies a policy action to a body: turn, then thrust along the
// new heading if above the deadzone. A shoot signal above the trigger level
// with zero cooldown fires a projectile along the heading. The split signal
// only arms its cooldown; mid-generation reproduction does not happen.
func (d *Dish) ApplyAction(b *Body, act neural.Action) {
	b.Angle += act.Turn * d.turnRate

	if act.Thrust > ThrustDeadzone {
		mag := act.Thrust * d.thrustForce
		b.VX += float32(math.Cos(float64(b.Angle))) * mag
		b.VY += float32(math.Sin(float64(b.Angle))) * mag
	}

	if act.Shoot > TriggerLevel && b.ShootCooldown == 0 {
		d.spawnShot(b)
		b.ShootCooldown = d.shootCooldown
	}

	if act.Split > TriggerLevel && b.SplitCooldown == 0 {
		b.SplitCooldown = d.splitCooldown
	}
}

// Step advances the dish by one tick. Per live body: metabolic decay,
// friction, velocity clamp, position integration, wrap. Cooldowns decay for
// every body, dead ones included. Then food consumption resolves with the
// first colliding live body in slice order winning each pellet, projectiles
// advance and collide, and the food set respawns if the timer elapsed.
func (d *Dish) Step(bodies []*Body) StepInfo {
	d.BeginTick()

	for _, b := range bodies {
		if b.Alive() {
			b.Energy -= d.energyDecay * d.dt

			b.VX *= 1 - d.friction
			b.VY *= 1 - d.friction

			speed := float32(math.Sqrt(float64(b.VX*b.VX + b.VY*b.VY)))
			if speed > d.maxVelocity {
				b.VX = b.VX / speed * d.maxVelocity
				b.VY = b.VY / speed * d.maxVelocity
			}

			b.X += b.VX * d.dt
			b.Y += b.VY * d.dt
			b.X, b.Y = d.Wrap(b.X, b.Y)
		}

		if b.ShootCooldown > 0 {
			b.ShootCooldown--
		}
		if b.SplitCooldown > 0 {
			b.SplitCooldown--
		}
	}

	d.resolveFood(bodies)
	d.StepShots(func(x, y, damage float32, ownerID int) bool {
		reach := d.agentRadius + d.shotRadius
		for _, b := range bodies {
			if !b.Alive() || b.ID == ownerID {
				continue
			}
			if d.Distance(b.X, b.Y, x, y) < reach {
				b.Energy -= damage
				return true
			}
		}
		return false
	})
	d.FinishTick()

	return StepInfo{
		Tick:          d.tick,
		FoodAvailable: d.AvailableFood(),
		ShotsInFlight: d.ShotsInFlight(),
	}
}

// BeginTick advances the tick counter. Callers driving the dish phase by
// phase (the batched layer) call this instead of Step.
func (d *Dish) BeginTick() {
	d.tick++
}

// FinishTick advances the respawn timer and regenerates the food set when
// it elapses.
func (d *Dish) FinishTick() {
	d.respawnTimer++
	if d.respawnTimer >= d.respawnTime {
		d.spawnFood()
		d.respawnTimer = 0
	}
}

// resolveFood consumes pellets touched by live bodies. Slice order is the
// tie-break: the first colliding live body wins the pellet.
func (d *Dish) resolveFood(bodies []*Body) {
	reach := d.agentRadius + d.foodRadius

	query := d.pelletFilter.Query()
	for query.Next() {
		pos, pellet := query.Get()
		if pellet.State != components.PelletAvailable {
			continue
		}
		for _, b := range bodies {
			if !b.Alive() {
				continue
			}
			if d.Distance(b.X, b.Y, pos.X, pos.Y) < reach {
				b.Energy += pellet.EnergyValue
				pellet.State = components.PelletConsumed
				break
			}
		}
	}
}

// StepShots ages, moves and collides projectiles, then removes the ones
// that hit or expired this tick. The collide callback receives the shot's
// position, damage and owner; it applies damage to whichever agent it
// resolves (never the owner) and reports whether anything was hit.
func (d *Dish) StepShots(collide func(x, y, damage float32, ownerID int) bool) {
	var done []ecs.Entity

	query := d.shotFilter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, shot := query.Get()

		shot.Age++
		if shot.Age >= shot.Lifetime {
			shot.State = components.ShotExpired
			done = append(done, entity)
			continue
		}

		pos.X += vel.X * d.dt
		pos.Y += vel.Y * d.dt
		pos.X, pos.Y = d.Wrap(pos.X, pos.Y)

		if collide(pos.X, pos.Y, shot.Damage, shot.OwnerID) {
			shot.State = components.ShotHit
			done = append(done, entity)
		}
	}

	for _, entity := range done {
		d.world.RemoveEntity(entity)
	}
}

// ShotReach returns the collision distance between a shot and an agent.
func (d *Dish) ShotReach() float32 {
	return d.agentRadius + d.shotRadius
}

// FoodReach returns the collision distance between a pellet and an agent.
func (d *Dish) FoodReach() float32 {
	return d.agentRadius + d.foodRadius
}

// FireShot spawns a projectile at (x, y) along the given heading, owned by
// ownerID. Used by the batched layer, which tracks agent state in dense
// arrays rather than Body structs.
func (d *Dish) FireShot(ownerID int, x, y, angle float32) {
	b := Body{ID: ownerID, X: x, Y: y, Angle: angle}
	d.spawnShot(&b)
}

// spawnShot fires a projectile from the body along its heading.
func (d *Dish) spawnShot(b *Body) {
	vx := float32(math.Cos(float64(b.Angle))) * d.shotSpeed
	vy := float32(math.Sin(float64(b.Angle))) * d.shotSpeed

	pos := &components.Position{X: b.X, Y: b.Y}
	vel := &components.Velocity{X: vx, Y: vy}
	shot := &components.Shot{
		OwnerID:  b.ID,
		Damage:   d.shotDamage,
		Lifetime: d.shotLifetime,
		State:    components.ShotInFlight,
	}
	d.shotMapper.NewEntity(pos, vel, shot)
}

// spawnFood replaces the entire food set with freshly placed pellets.
func (d *Dish) spawnFood() {
	var old []ecs.Entity
	query := d.pelletFilter.Query()
	for query.Next() {
		old = append(old, query.Entity())
	}
	for _, entity := range old {
		d.world.RemoveEntity(entity)
	}

	for i := 0; i < d.foodCount; i++ {
		pos := &components.Position{
			X: d.rng.Float32() * d.width,
			Y: d.rng.Float32() * d.height,
		}
		pellet := &components.Pellet{
			EnergyValue: d.foodEnergy,
			State:       components.PelletAvailable,
		}
		d.pelletMapper.NewEntity(pos, pellet)
	}
	d.foodEpoch++
}

// PlacePellet adds a single pellet at a fixed position. Used for scripted
// scenarios; normal food placement goes through spawnFood.
func (d *Dish) PlacePellet(x, y float32) {
	pos := &components.Position{X: x, Y: y}
	pellet := &components.Pellet{
		EnergyValue: d.foodEnergy,
		State:       components.PelletAvailable,
	}
	d.pelletMapper.NewEntity(pos, pellet)
}

// clearShots removes all projectiles.
func (d *Dish) clearShots() {
	var all []ecs.Entity
	query := d.shotFilter.Query()
	for query.Next() {
		all = append(all, query.Entity())
	}
	for _, entity := range all {
		d.world.RemoveEntity(entity)
	}
}

// VisitPellets calls fn for every pellet in the dish.
func (d *Dish) VisitPellets(fn func(pos *components.Position, pellet *components.Pellet)) {
	query := d.pelletFilter.Query()
	for query.Next() {
		pos, pellet := query.Get()
		fn(pos, pellet)
	}
}

// VisitShots calls fn for every projectile in the dish.
func (d *Dish) VisitShots(fn func(pos *components.Position, vel *components.Velocity, shot *components.Shot)) {
	query := d.shotFilter.Query()
	for query.Next() {
		pos, vel, shot := query.Get()
		fn(pos, vel, shot)
	}
}

// AvailableFood counts unconsumed pellets.
func (d *Dish) AvailableFood() int {
	n := 0
	query := d.pelletFilter.Query()
	for query.Next() {
		_, pellet := query.Get()
		if pellet.State == components.PelletAvailable {
			n++
		}
	}
	return n
}

// ShotsInFlight counts active projectiles.
func (d *Dish) ShotsInFlight() int {
	n := 0
	query := d.shotFilter.Query()
	for query.Next() {
		_, _, shot := query.Get()
		if shot.State == components.ShotInFlight {
			n++
		}
	}
	return n
}

// mod is a floored modulo: the result always lies in [0, m).
func mod(x, m float32) float32 {
	r := float32(math.Mod(float64(x), float64(m)))
	if r < 0 {
		r += m
	}
	return r
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
