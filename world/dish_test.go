package world

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/neural"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return cfg
}

func emptyDish(t *testing.T, cfg *config.Config) *Dish {
	t.Helper()
	cfg.Food.SpawnCount = 0
	return NewDish(cfg, rand.New(rand.NewSource(1)))
}

func TestWrapIdempotent(t *testing.T) {
	d := emptyDish(t, testConfig(t))

	// In-bounds positions are untouched.
	x, y := d.Wrap(100, 200)
	if x != 100 || y != 200 {
		t.Errorf("Wrap(100,200) = (%v,%v), want (100,200)", x, y)
	}

	// Wrapping is idempotent for out-of-bounds positions.
	cases := [][2]float32{
		{-10, -10},
		{850, 650},
		{1650, -700},
	}
	for _, c := range cases {
		x1, y1 := d.Wrap(c[0], c[1])
		x2, y2 := d.Wrap(x1, y1)
		if x1 != x2 || y1 != y2 {
			t.Errorf("Wrap not idempotent for (%v,%v): (%v,%v) then (%v,%v)",
				c[0], c[1], x1, y1, x2, y2)
		}
		w, h := d.Size()
		if x1 < 0 || x1 >= w || y1 < 0 || y1 >= h {
			t.Errorf("Wrap(%v,%v) = (%v,%v) out of bounds", c[0], c[1], x1, y1)
		}
	}
}

func TestToroidalDelta(t *testing.T) {
	d := emptyDish(t, testConfig(t))

	// Points near opposite edges are close across the seam.
	dist := d.Distance(5, 300, 795, 300)
	if dist > 11 {
		t.Errorf("seam distance = %v, want ~10", dist)
	}
}

func TestFoodConsumption(t *testing.T) {
	cfg := testConfig(t)
	d := emptyDish(t, cfg)

	a := &Body{ID: 0, X: 100, Y: 100, Energy: 50}
	b := &Body{ID: 1, X: 400, Y: 300, Energy: 50}
	d.PlacePellet(100, 100)

	d.Step([]*Body{a, b})

	decay := float32(cfg.Agent.EnergyDecay * cfg.Physics.DT)
	wantA := 50 - decay + float32(cfg.Food.EnergyValue)
	if math.Abs(float64(a.Energy-wantA)) > 1e-4 {
		t.Errorf("agent A energy = %v, want %v", a.Energy, wantA)
	}
	wantB := 50 - decay
	if math.Abs(float64(b.Energy-wantB)) > 1e-4 {
		t.Errorf("agent B energy = %v, want %v", b.Energy, wantB)
	}
	if d.AvailableFood() != 0 {
		t.Errorf("pellet not consumed")
	}
}

func TestFoodTieBreakPopulationOrder(t *testing.T) {
	cfg := testConfig(t)
	d := emptyDish(t, cfg)

	// Both bodies touch the pellet; the first in slice order wins.
	a := &Body{ID: 7, X: 102, Y: 100, Energy: 50}
	b := &Body{ID: 3, X: 98, Y: 100, Energy: 50}
	d.PlacePellet(100, 100)

	d.Step([]*Body{a, b})

	decay := float32(cfg.Agent.EnergyDecay * cfg.Physics.DT)
	if a.Energy <= 50-decay {
		t.Errorf("first body did not consume the pellet: energy %v", a.Energy)
	}
	if b.Energy > 50-decay+1e-4 {
		t.Errorf("second body consumed the pellet: energy %v", b.Energy)
	}
}

func TestShotNeverHitsOwner(t *testing.T) {
	cfg := testConfig(t)
	d := emptyDish(t, cfg)

	shooter := &Body{ID: 0, X: 100, Y: 100, Energy: 100}
	d.ApplyAction(shooter, neural.Action{Shoot: 1})

	if d.ShotsInFlight() != 1 {
		t.Fatalf("shot not spawned")
	}
	if shooter.ShootCooldown != int32(cfg.Agent.ShootCooldown) {
		t.Errorf("cooldown = %d, want %d", shooter.ShootCooldown, cfg.Agent.ShootCooldown)
	}

	// The shot starts on top of its owner but must not damage it.
	d.Step([]*Body{shooter})

	decay := float32(cfg.Agent.EnergyDecay * cfg.Physics.DT)
	want := 100 - decay
	if math.Abs(float64(shooter.Energy-want)) > 1e-4 {
		t.Errorf("owner took damage: energy %v, want %v", shooter.Energy, want)
	}
}

func TestShotHitsOther(t *testing.T) {
	cfg := testConfig(t)
	d := emptyDish(t, cfg)

	shooter := &Body{ID: 0, X: 100, Y: 100, Angle: 0, Energy: 100}
	target := &Body{ID: 1, X: 103, Y: 100, Energy: 100}
	d.ApplyAction(shooter, neural.Action{Shoot: 1})

	d.Step([]*Body{shooter, target})

	decay := float32(cfg.Agent.EnergyDecay * cfg.Physics.DT)
	want := 100 - decay - float32(cfg.Projectile.Damage)
	if math.Abs(float64(target.Energy-want)) > 1e-3 {
		t.Errorf("target energy = %v, want %v", target.Energy, want)
	}
	if d.ShotsInFlight() != 0 {
		t.Errorf("shot still in flight after hit")
	}
}

func TestCooldownsDecayForDeadBodies(t *testing.T) {
	d := emptyDish(t, testConfig(t))

	dead := &Body{ID: 0, X: 10, Y: 10, Energy: 0, ShootCooldown: 5, SplitCooldown: 3}
	d.Step([]*Body{dead})

	if dead.ShootCooldown != 4 || dead.SplitCooldown != 2 {
		t.Errorf("cooldowns = (%d,%d), want (4,2)",
			dead.ShootCooldown, dead.SplitCooldown)
	}
	if dead.Energy != 0 {
		t.Errorf("dead body energy changed: %v", dead.Energy)
	}
}

func TestDeadBodiesDoNotMove(t *testing.T) {
	d := emptyDish(t, testConfig(t))

	dead := &Body{ID: 0, X: 50, Y: 50, VX: 5, VY: 5, Energy: 0}
	d.Step([]*Body{dead})

	if dead.X != 50 || dead.Y != 50 {
		t.Errorf("dead body moved to (%v,%v)", dead.X, dead.Y)
	}
}

func TestStepDeterminism(t *testing.T) {
	run := func() []*Body {
		cfg := testConfig(t)
		d := NewDish(cfg, rand.New(rand.NewSource(99)))
		bodies := make([]*Body, 10)
		for i := range bodies {
			bodies[i] = &Body{
				ID: i,
				X:  float32(i) * 37,
				Y:  float32(i) * 23,
				VX: float32(i%3) - 1,
				VY: float32(i%5) - 2,
				// Stagger energies so some die mid-run
				Energy: float32(5 + i*10),
			}
		}
		for tick := 0; tick < 200; tick++ {
			d.Step(bodies)
		}
		return bodies
	}

	a, b := run(), run()
	for i := range a {
		if *a[i] != *b[i] {
			t.Errorf("body %d diverged: %+v != %+v", i, *a[i], *b[i])
		}
	}
}

func TestRaycastFindsFoodAhead(t *testing.T) {
	cfg := testConfig(t)
	d := emptyDish(t, cfg)

	// Pellet 60 units along the +x axis; ray 0 points that way.
	body := &Body{ID: 0, X: 100, Y: 100, Energy: 100}
	d.PlacePellet(160, 100)

	maxDist := float32(cfg.Raycast.MaxDistance)
	hits := make([]RayHit, cfg.Raycast.Count)
	d.Raycast(body, maxDist, hits)

	if math.Abs(float64(hits[0].Food-60)) > rayStep+float64(cfg.Food.Radius) {
		t.Errorf("ray 0 food distance = %v, want ~60", hits[0].Food)
	}
	// A ray pointing away sees nothing.
	mid := len(hits) / 2
	if hits[mid].Food != maxDist {
		t.Errorf("ray %d food distance = %v, want %v", mid, hits[mid].Food, maxDist)
	}
	// Enemy channel stays at the sentinel.
	for i, h := range hits {
		if h.Enemy != maxDist {
			t.Errorf("ray %d enemy channel = %v, want sentinel %v", i, h.Enemy, maxDist)
		}
	}
}

func TestSenseNormalized(t *testing.T) {
	cfg := testConfig(t)
	d := NewDish(cfg, rand.New(rand.NewSource(4)))

	body := &Body{ID: 0, X: 400, Y: 300, Energy: 100}
	maxDist := float32(cfg.Raycast.MaxDistance)
	hits := make([]RayHit, cfg.Raycast.Count)
	input := make([]float32, cfg.Network.InputSize)
	d.Sense(body, maxDist, hits, input)

	for i, v := range input {
		if v < 0 || v > 1 {
			t.Errorf("input[%d] = %v outside [0,1]", i, v)
		}
	}
}
