package neural

import (
	"math"
	"math/rand"
	"testing"
)

func testArch() Arch {
	return Arch{InputSize: 24, HiddenLayers: []int{64}, OutputSize: 4}
}

func TestWeightCount(t *testing.T) {
	arch := testArch()
	want := 24*64 + 64 + 64*4 + 4
	if got := arch.WeightCount(); got != want {
		t.Errorf("WeightCount() = %d, want %d", got, want)
	}

	deep := Arch{InputSize: 6, HiddenLayers: []int{8, 4}, OutputSize: 2}
	want = 6*8 + 8 + 8*4 + 4 + 4*2 + 2
	if got := deep.WeightCount(); got != want {
		t.Errorf("deep WeightCount() = %d, want %d", got, want)
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := NewRandomPolicy(testArch(), rng)

	flat := p.Weights()
	if len(flat) != p.WeightCount() {
		t.Fatalf("Weights() length = %d, want %d", len(flat), p.WeightCount())
	}

	q := NewPolicy(testArch())
	if err := q.SetWeights(flat); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}

	got := q.Weights()
	for i := range flat {
		if got[i] != flat[i] {
			t.Fatalf("round-trip mismatch at %d: %v != %v", i, got[i], flat[i])
		}
	}
}

func TestSetWeightsLengthMismatch(t *testing.T) {
	p := NewPolicy(testArch())
	if err := p.SetWeights(make([]float32, 7)); err == nil {
		t.Error("SetWeights with wrong length should fail")
	}
}

func TestForwardDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := NewRandomPolicy(testArch(), rng)

	inputs := make([]float32, 24)
	for i := range inputs {
		inputs[i] = rng.Float32()
	}

	var a, b [4]float32
	p.Forward(inputs, a[:])
	p.Forward(inputs, b[:])
	if a != b {
		t.Errorf("Forward not deterministic: %v != %v", a, b)
	}
}

func TestActClamps(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	inputs := make([]float32, 24)
	for i := range inputs {
		inputs[i] = 1
	}

	// Large weights push raw outputs outside the action domains.
	p := NewRandomPolicy(testArch(), rng)
	flat := p.Weights()
	for i := range flat {
		flat[i] *= 100
	}
	if err := p.SetWeights(flat); err != nil {
		t.Fatal(err)
	}

	act := p.Act(inputs)
	if act.Thrust < 0 || act.Thrust > 1 {
		t.Errorf("thrust %v outside [0,1]", act.Thrust)
	}
	if act.Turn < -1 || act.Turn > 1 {
		t.Errorf("turn %v outside [-1,1]", act.Turn)
	}
	if act.Shoot < 0 || act.Shoot > 1 {
		t.Errorf("shoot %v outside [0,1]", act.Shoot)
	}
	if act.Split < 0 || act.Split > 1 {
		t.Errorf("split %v outside [0,1]", act.Split)
	}
}

func TestCloneIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p := NewRandomPolicy(testArch(), rng)
	q := p.Clone()

	q.Mutate(rng, 0.5)

	pw, qw := p.Weights(), q.Weights()
	same := true
	for i := range pw {
		if pw[i] != qw[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("mutating clone changed original (or mutation was a no-op)")
	}
}

func TestDistributionSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	p := NewRandomPolicy(testArch(), rng)

	inputs := make([]float32, 24)
	for i := range inputs {
		inputs[i] = rng.Float32()
	}

	probs := make([]float64, 4)
	p.Distribution(inputs, probs)

	sum := 0.0
	for _, v := range probs {
		if v < 0 || v > 1 {
			t.Errorf("probability %v outside [0,1]", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
}

func BenchmarkForward(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	p := NewRandomPolicy(testArch(), rng)
	inputs := make([]float32, 24)
	for i := range inputs {
		inputs[i] = rng.Float32()
	}
	out := make([]float32, 4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Forward(inputs, out)
	}
}
