package batch

import (
	"math"

	"github.com/pthm-cable/petri/components"
	"github.com/pthm-cable/petri/config"
	"github.com/pthm-cable/petri/world"
)

// Sensor computes the policy input matrix for the whole population using
// analytical ray-circle intersection instead of ray marching: for a ray
// P + t*D and a pellet center C with radius R, with v = C - P (toroidally
// wrapped), the closest approach is at t_c = v·D with perpendicular offset
// d² = |v|² - t_c²; the near intersection is t = t_c - sqrt(R² - d²),
// valid when R² ≥ d², t > 0 and t ≤ max distance. One evaluation per
// agent-ray-pellet triple replaces the per-step march.
type Sensor struct {
	rayCount    int
	maxDistance float32
	dirX, dirY  []float32
}

// NewSensor precomputes the ray directions. Ray angles are absolute world
// angles, not offsets from the agent's heading, matching the sequential
// raycast in the world package.
func NewSensor(cfg *config.Config) *Sensor {
	angles := world.RayAngles(cfg.Raycast.Count)
	s := &Sensor{
		rayCount:    cfg.Raycast.Count,
		maxDistance: float32(cfg.Raycast.MaxDistance),
		dirX:        make([]float32, len(angles)),
		dirY:        make([]float32, len(angles)),
	}
	for i, a := range angles {
		s.dirX[i] = float32(math.Cos(float64(a)))
		s.dirY[i] = float32(math.Sin(float64(a)))
	}
	return s
}

// Sense fills inputs with [agent][ray*3] normalized channels (wall, food,
// enemy), clamped to [0,1]. Dead agents get zero inputs; their outputs are
// masked out by ApplyActions anyway. The pellet mirror in st must be
// current (call st.RefreshFood first).
func (s *Sensor) Sense(d *world.Dish, st *State, inputs []float32) {
	width, height := d.Size()
	r2 := d.FoodRadius() * d.FoodRadius()

	for i := 0; i < st.n; i++ {
		row := inputs[i*s.rayCount*3 : (i+1)*s.rayCount*3]
		if !st.Alive[i] {
			for j := range row {
				row[j] = 0
			}
			continue
		}

		for ray := 0; ray < s.rayCount; ray++ {
			dx, dy := s.dirX[ray], s.dirY[ray]

			wall := s.maxDistance
			if !d.Toroidal() {
				wall = wallDistance(st.X[i], st.Y[i], dx, dy, width, height, s.maxDistance)
			}

			food := s.maxDistance
			for fi, p := range st.pellets {
				if p.State != components.PelletAvailable {
					continue
				}
				vx, vy := d.Delta(st.X[i], st.Y[i], st.foodX[fi], st.foodY[fi])
				tc := vx*dx + vy*dy
				d2 := vx*vx + vy*vy - tc*tc
				disc := r2 - d2
				if disc < 0 {
					continue
				}
				t := tc - float32(math.Sqrt(float64(disc)))
				if t > 0 && t <= s.maxDistance && t < food {
					food = t
				}
			}

			row[ray*3+0] = clampf(wall/s.maxDistance, 0, 1)
			row[ray*3+1] = clampf(food/s.maxDistance, 0, 1)
			row[ray*3+2] = 1 // enemy channel: reserved, sentinel max distance
		}
	}
}

// wallDistance returns the distance along (dx,dy) from (x,y) to the first
// boundary, clamped to maxDistance. Only meaningful in non-toroidal mode.
func wallDistance(x, y, dx, dy, width, height, maxDistance float32) float32 {
	const eps = 1e-6
	wall := float32(math.Inf(1))

	if dx > eps {
		if t := (width - x) / dx; t < wall {
			wall = t
		}
	} else if dx < -eps {
		if t := -x / dx; t < wall {
			wall = t
		}
	}
	if dy > eps {
		if t := (height - y) / dy; t < wall {
			wall = t
		}
	} else if dy < -eps {
		if t := -y / dy; t < wall {
			wall = t
		}
	}

	return clampf(wall, 0, maxDistance)
}
