// Package neural provides feedforward policy networks for agents.
package neural

import (
	"fmt"
	"math"
	"math/rand"
)

// Arch describes a fully connected feedforward architecture:
// input -> hidden layers (ReLU) -> output (linear).
type Arch struct {
	InputSize    int
	HiddenLayers []int
	OutputSize   int
}

// Sizes returns the layer widths as a flat slice: [in, h0, h1, ..., out].
func (a Arch) Sizes() []int {
	sizes := make([]int, 0, len(a.HiddenLayers)+2)
	sizes = append(sizes, a.InputSize)
	sizes = append(sizes, a.HiddenLayers...)
	sizes = append(sizes, a.OutputSize)
	return sizes
}

// WeightCount returns the total number of parameters (weights plus biases).
func (a Arch) WeightCount() int {
	sizes := a.Sizes()
	total := 0
	for i := 1; i < len(sizes); i++ {
		total += sizes[i]*sizes[i-1] + sizes[i]
	}
	return total
}

// Action holds the clamped control outputs of a policy.
type Action struct {
	Thrust float32 // [0, 1]
	Turn   float32 // [-1, 1]
	Shoot  float32 // [0, 1]
	Split  float32 // [0, 1]
}

// layer is one dense layer. W is row-major [Out][In].
type layer struct {
	W   []float32
	B   []float32
	In  int
	Out int
}

// Policy is a feedforward network with ReLU hidden activations and a linear
// output layer. The weight layout is stable: per layer, weight matrix first
// (row-major), then bias vector.
type Policy struct {
	arch   Arch
	layers []layer

	// scratch buffers reused across Forward calls
	a, b []float32
}

// NewPolicy creates a zero-initialized policy for the given architecture.
func NewPolicy(arch Arch) *Policy {
	sizes := arch.Sizes()
	p := &Policy{arch: arch}
	maxWidth := 0
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		p.layers = append(p.layers, layer{
			W:   make([]float32, out*in),
			B:   make([]float32, out),
			In:  in,
			Out: out,
		})
		if out > maxWidth {
			maxWidth = out
		}
	}
	if sizes[0] > maxWidth {
		maxWidth = sizes[0]
	}
	p.a = make([]float32, maxWidth)
	p.b = make([]float32, maxWidth)
	return p
}

// NewRandomPolicy creates a policy with all parameters drawn from N(0, 0.1).
func NewRandomPolicy(arch Arch, rng *rand.Rand) *Policy {
	p := NewPolicy(arch)
	for li := range p.layers {
		l := &p.layers[li]
		for i := range l.W {
			l.W[i] = float32(rng.NormFloat64()) * 0.1
		}
		for i := range l.B {
			l.B[i] = float32(rng.NormFloat64()) * 0.1
		}
	}
	return p
}

// Arch returns the network architecture.
func (p *Policy) Arch() Arch {
	return p.arch
}

// WeightCount returns the total number of parameters.
func (p *Policy) WeightCount() int {
	return p.arch.WeightCount()
}

// Forward computes the raw (pre-clamp) network outputs into out, which must
// have length OutputSize. The input slice is not modified.
func (p *Policy) Forward(inputs []float32, out []float32) {
	src := p.a[:len(inputs)]
	copy(src, inputs)

	for li := range p.layers {
		l := &p.layers[li]
		var dst []float32
		if li == len(p.layers)-1 {
			dst = out
		} else if li%2 == 0 {
			dst = p.b[:l.Out]
		} else {
			dst = p.a[:l.Out]
		}

		for i := 0; i < l.Out; i++ {
			sum := l.B[i]
			row := l.W[i*l.In : (i+1)*l.In]
			for j, w := range row {
				sum += w * src[j]
			}
			if li < len(p.layers)-1 && sum < 0 {
				sum = 0 // ReLU on hidden layers only
			}
			dst[i] = sum
		}
		src = dst
	}
}

// Act runs the network and clamps each output to its action domain.
func (p *Policy) Act(inputs []float32) Action {
	var raw [4]float32
	p.Forward(inputs, raw[:])
	return Action{
		Thrust: clamp(raw[0], 0, 1),
		Turn:   clamp(raw[1], -1, 1),
		Shoot:  clamp(raw[2], 0, 1),
		Split:  clamp(raw[3], 0, 1),
	}
}

// Distribution computes a softmax over the raw outputs for the given input,
// writing probabilities into out (length OutputSize). Used by the entropy
// probe; the max-subtraction keeps the exponentials finite.
func (p *Policy) Distribution(inputs []float32, out []float64) {
	raw := make([]float32, p.arch.OutputSize)
	p.Forward(inputs, raw)

	maxRaw := raw[0]
	for _, v := range raw[1:] {
		if v > maxRaw {
			maxRaw = v
		}
	}
	var sum float64
	for i, v := range raw {
		e := math.Exp(float64(v - maxRaw))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
}

// Weights flattens all parameters into a single slice. Layout per layer:
// weight matrix (row-major), then bias vector.
func (p *Policy) Weights() []float32 {
	flat := make([]float32, 0, p.WeightCount())
	for li := range p.layers {
		flat = append(flat, p.layers[li].W...)
		flat = append(flat, p.layers[li].B...)
	}
	return flat
}

// SetWeights restores parameters from a flat slice produced by Weights.
func (p *Policy) SetWeights(flat []float32) error {
	if len(flat) != p.WeightCount() {
		return fmt.Errorf("neural: weight count mismatch: got %d, want %d",
			len(flat), p.WeightCount())
	}
	idx := 0
	for li := range p.layers {
		l := &p.layers[li]
		idx += copy(l.W, flat[idx:idx+len(l.W)])
		idx += copy(l.B, flat[idx:idx+len(l.B)])
	}
	return nil
}

// Clone creates a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	clone := NewPolicy(p.arch)
	for li := range p.layers {
		copy(clone.layers[li].W, p.layers[li].W)
		copy(clone.layers[li].B, p.layers[li].B)
	}
	return clone
}

// Mutate perturbs every parameter with Gaussian noise of the given sigma.
func (p *Policy) Mutate(rng *rand.Rand, sigma float32) {
	for li := range p.layers {
		l := &p.layers[li]
		for i := range l.W {
			l.W[i] += float32(rng.NormFloat64()) * sigma
		}
		for i := range l.B {
			l.B[i] += float32(rng.NormFloat64()) * sigma
		}
	}
}

// clamp limits x to [lo, hi].
func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
