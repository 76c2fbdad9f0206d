// Package checkpoint defines the transport-agnostic checkpoint payload,
// its JSON codec, and a SQLite-backed local store used to resume runs
// across worker restarts.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pthm-cable/petri/ga"
	"github.com/pthm-cable/petri/neural"
)

// Architecture mirrors the policy network shape inside a payload.
type Architecture struct {
	InputSize    int   `json:"input_size"`
	HiddenLayers []int `json:"hidden_layers"`
	OutputSize   int   `json:"output_size"`
}

// SavedAgent is one serialized population member. ParentElo and
// MutationRateApplied are nullable: absent means the agent never went
// through crossover or mutation, which is distinct from a zero value.
type SavedAgent struct {
	AgentID             int          `json:"agent_id"`
	EloRating           float64      `json:"elo_rating"`
	FitnessScore        float64      `json:"fitness_score"`
	ParentElo           *float64     `json:"parent_elo"`
	MutationRateApplied *float64     `json:"mutation_rate_applied"`
	NetworkWeights      []float32    `json:"network_weights"`
	NetworkArchitecture Architecture `json:"network_architecture"`
}

// Payload is the full checkpoint record exchanged with the controller
// and persisted locally.
type Payload struct {
	Generation       int          `json:"generation"`
	MaxGlobalElo     float64      `json:"max_global_elo"`
	PopulationSize   int          `json:"population_size"`
	SavedAgentsCount int          `json:"saved_agents_count"`
	Agents           []SavedAgent `json:"agents"`
}

// Snapshot builds a payload from the current population, keeping the
// topK agents by Elo. The full population size is recorded so a resume
// knows how many slots to refill.
func Snapshot(generation int, maxGlobalElo float64, pop []*ga.Agent, arch neural.Arch, topK int) Payload {
	ranked := make([]*ga.Agent, len(pop))
	copy(ranked, pop)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Elo > ranked[j].Elo
	})
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}

	archRec := Architecture{
		InputSize:    arch.InputSize,
		HiddenLayers: arch.HiddenLayers,
		OutputSize:   arch.OutputSize,
	}

	agents := make([]SavedAgent, len(ranked))
	for i, a := range ranked {
		sa := SavedAgent{
			AgentID:             a.ID,
			EloRating:           a.Elo,
			FitnessScore:        a.Fitness,
			NetworkWeights:      a.Policy.Weights(),
			NetworkArchitecture: archRec,
		}
		if v, ok := a.ParentElo.Value(); ok {
			sa.ParentElo = &v
		}
		if v, ok := a.MutationApplied.Value(); ok {
			sa.MutationRateApplied = &v
		}
		agents[i] = sa
	}

	return Payload{
		Generation:       generation,
		MaxGlobalElo:     maxGlobalElo,
		PopulationSize:   len(pop),
		SavedAgentsCount: len(agents),
		Agents:           agents,
	}
}

// Agents reconstructs population members from the payload. The saved
// architecture must match arch; a mismatch means the checkpoint belongs
// to a differently configured experiment.
func (p Payload) ToAgents(arch neural.Arch) ([]*ga.Agent, error) {
	agents := make([]*ga.Agent, 0, len(p.Agents))
	for _, sa := range p.Agents {
		if err := checkArch(sa.NetworkArchitecture, arch); err != nil {
			return nil, fmt.Errorf("checkpoint agent %d: %w", sa.AgentID, err)
		}

		policy := neural.NewPolicy(arch)
		if err := policy.SetWeights(sa.NetworkWeights); err != nil {
			return nil, fmt.Errorf("checkpoint agent %d: %w", sa.AgentID, err)
		}

		a := &ga.Agent{
			ID:      sa.AgentID,
			Policy:  policy,
			Elo:     sa.EloRating,
			Fitness: sa.FitnessScore,
		}
		if sa.ParentElo != nil {
			a.ParentElo = ga.Some(*sa.ParentElo)
		}
		if sa.MutationRateApplied != nil {
			a.MutationApplied = ga.Some(*sa.MutationRateApplied)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func checkArch(saved Architecture, want neural.Arch) error {
	if saved.InputSize != want.InputSize || saved.OutputSize != want.OutputSize ||
		len(saved.HiddenLayers) != len(want.HiddenLayers) {
		return fmt.Errorf("architecture mismatch: saved %d-%v-%d, want %d-%v-%d",
			saved.InputSize, saved.HiddenLayers, saved.OutputSize,
			want.InputSize, want.HiddenLayers, want.OutputSize)
	}
	for i, h := range saved.HiddenLayers {
		if h != want.HiddenLayers[i] {
			return fmt.Errorf("architecture mismatch: hidden layer %d is %d, want %d",
				i, h, want.HiddenLayers[i])
		}
	}
	return nil
}

// Encode serializes the payload to JSON.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

// Decode parses a JSON checkpoint payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if p.SavedAgentsCount != len(p.Agents) {
		return Payload{}, fmt.Errorf("decoding checkpoint: saved_agents_count %d does not match %d agents",
			p.SavedAgentsCount, len(p.Agents))
	}
	return p, nil
}
