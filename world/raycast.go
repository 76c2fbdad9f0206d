package world

import (
	"math"

	"github.com/pthm-cable/petri/components"
)

// rayStep is the marching step size in world units.
const rayStep = 2.0

// RayHit holds the per-ray sensing channels. Absent obstacles read as the
// maximum ray distance; the enemy channels are reserved and always report
// the sentinel values.
type RayHit struct {
	Wall      float32
	Food      float32
	Enemy     float32
	EnemySize float32
}

// Raycast marches rays outward from the body and fills hits, which must
// have length equal to the configured ray count. A ray registers a pellet
// when the marched point passes within the food radius of an available
// pellet's wrapped center.
func (d *Dish) Raycast(b *Body, maxDistance float32, hits []RayHit) {
	// Pellet snapshot avoids re-querying the ECS at every march step.
	type pellet struct{ x, y float32 }
	var active []pellet
	d.VisitPellets(func(pos *components.Position, p *components.Pellet) {
		if p.State == components.PelletAvailable {
			active = append(active, pellet{pos.X, pos.Y})
		}
	})

	steps := int(maxDistance / rayStep)

	for i, angle := range d.rayAngles {
		dx := float32(math.Cos(float64(angle)))
		dy := float32(math.Sin(float64(angle)))

		hit := RayHit{
			Wall:      maxDistance,
			Food:      maxDistance,
			Enemy:     maxDistance,
			EnemySize: 0,
		}

		for step := 1; step <= steps; step++ {
			dist := float32(step) * rayStep
			checkX := b.X + dx*dist
			checkY := b.Y + dy*dist

			if !d.toroidal {
				if checkX < 0 || checkX > d.width || checkY < 0 || checkY > d.height {
					if dist < hit.Wall {
						hit.Wall = dist
					}
					break
				}
			}
			checkX, checkY = d.Wrap(checkX, checkY)

			if hit.Food >= maxDistance {
				for _, p := range active {
					if d.Distance(checkX, checkY, p.x, p.y) < d.foodRadius {
						hit.Food = dist
						break
					}
				}
			}
		}

		hits[i] = hit
	}
}

// Sense fills the policy input vector for a body: for each ray, the wall,
// food and enemy distances normalized by maxDistance and clamped to [0,1].
// The input slice must have length rayCount*3.
func (d *Dish) Sense(b *Body, maxDistance float32, hits []RayHit, input []float32) {
	d.Raycast(b, maxDistance, hits)
	for i, hit := range hits {
		input[i*3+0] = clampf(hit.Wall/maxDistance, 0, 1)
		input[i*3+1] = clampf(hit.Food/maxDistance, 0, 1)
		input[i*3+2] = clampf(hit.Enemy/maxDistance, 0, 1)
	}
}
