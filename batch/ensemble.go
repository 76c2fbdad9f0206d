// Package batch is the vectorized execution layer: it stacks per-agent
// policy weights into dense per-layer tensors and steps physics, sensing
// and collisions over whole-population arrays. Results are numerically
// equivalent to the sequential per-agent formulation; the per-agent object
// model stays the source of truth and everything here is a derived cache.
package batch

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/pthm-cable/petri/neural"
)

// stackedLayer holds one dense layer for every agent. w is laid out
// [agent][out][in] row-major, b is [agent][out].
type stackedLayer struct {
	w, b    []float32
	in, out int
}

// Ensemble is the stacked-weight form of a population of policies. It must
// be resynced with Sync whenever the population's weights change; stale
// stacked weights are a correctness bug.
type Ensemble struct {
	arch   neural.Arch
	n      int
	layers []stackedLayer

	// ping-pong activation buffers, n * maxWidth each
	actA, actB []float32
}

// NewEnsemble creates an ensemble for n agents with the given architecture.
func NewEnsemble(arch neural.Arch, n int) *Ensemble {
	e := &Ensemble{arch: arch}
	e.alloc(n)
	return e
}

func (e *Ensemble) alloc(n int) {
	e.n = n
	sizes := e.arch.Sizes()
	e.layers = e.layers[:0]
	maxWidth := sizes[0]
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		e.layers = append(e.layers, stackedLayer{
			w:   make([]float32, n*out*in),
			b:   make([]float32, n*out),
			in:  in,
			out: out,
		})
		if out > maxWidth {
			maxWidth = out
		}
	}
	e.actA = make([]float32, n*maxWidth)
	e.actB = make([]float32, n*maxWidth)
}

// N returns the number of agents the ensemble is sized for.
func (e *Ensemble) N() int {
	return e.n
}

// Resize reallocates the stacked tensors for a new population size. It is
// explicit: buffers are reused across ticks and generations, and only a
// population-size change triggers reallocation.
func (e *Ensemble) Resize(n int) {
	if n == e.n {
		return
	}
	e.alloc(n)
}

// Sync gathers the policies' weights into the stacked tensors. Must be
// called after every population replacement and before the next tick.
func (e *Ensemble) Sync(policies []*neural.Policy) error {
	if len(policies) != e.n {
		return fmt.Errorf("batch: population size %d does not match ensemble size %d (call Resize)",
			len(policies), e.n)
	}
	for i, p := range policies {
		if p.Arch().WeightCount() != e.arch.WeightCount() {
			return fmt.Errorf("batch: agent %d architecture mismatch", i)
		}
		flat := p.Weights()
		idx := 0
		for li := range e.layers {
			l := &e.layers[li]
			wlen := l.out * l.in
			idx += copy(l.w[i*wlen:(i+1)*wlen], flat[idx:idx+wlen])
			idx += copy(l.b[i*l.out:(i+1)*l.out], flat[idx:idx+l.out])
		}
	}
	return nil
}

// Forward runs the batched forward pass. inputs is [agent][inputSize]
// row-major, outputs is [agent][outputSize]. Each agent's computation is a
// Gemv over its stacked weight slab, with the bias preloaded as the
// accumulator, so the per-agent arithmetic matches Policy.Forward.
func (e *Ensemble) Forward(inputs, outputs []float32) {
	src := e.actA[:e.n*e.arch.InputSize]
	copy(src, inputs)

	for li := range e.layers {
		l := &e.layers[li]
		last := li == len(e.layers)-1

		var dst []float32
		switch {
		case last:
			dst = outputs
		case li%2 == 0:
			dst = e.actB[:e.n*l.out]
		default:
			dst = e.actA[:e.n*l.out]
		}

		wlen := l.out * l.in
		for i := 0; i < e.n; i++ {
			y := dst[i*l.out : (i+1)*l.out]
			copy(y, l.b[i*l.out:(i+1)*l.out])

			a := blas32.General{
				Rows:   l.out,
				Cols:   l.in,
				Stride: l.in,
				Data:   l.w[i*wlen : (i+1)*wlen],
			}
			x := blas32.Vector{
				N:    l.in,
				Inc:  1,
				Data: src[i*l.in : (i+1)*l.in],
			}
			blas32.Gemv(blas.NoTrans, 1, a, x, 1, blas32.Vector{N: l.out, Inc: 1, Data: y})

			if !last {
				for j, v := range y {
					if v < 0 {
						y[j] = 0
					}
				}
			}
		}
		src = dst
	}
}
