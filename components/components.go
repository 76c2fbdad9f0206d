// Package components defines ECS components for dish-owned entities.
package components

// Position represents an entity's world position.
type Position struct {
	X, Y float32
}

// Velocity represents an entity's velocity.
type Velocity struct {
	X, Y float32
}

// PelletState tracks a food pellet through its lifecycle.
type PelletState uint8

const (
	PelletAvailable PelletState = iota
	PelletConsumed
)

// Pellet is a food pellet. Consumed pellets stay in the world until the
// next wholesale respawn so raycast queries can skip them cheaply.
type Pellet struct {
	EnergyValue float32
	State       PelletState
}

// ShotState tracks a projectile through its lifecycle.
type ShotState uint8

const (
	ShotInFlight ShotState = iota
	ShotHit
	ShotExpired
)

// Shot is a projectile fired by an agent. A shot never hits its owner and
// deals damage exactly once.
type Shot struct {
	OwnerID  int
	Damage   float32
	Age      int32
	Lifetime int32
	State    ShotState
}
