// Package config provides configuration loading and access for the worker.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Mutation modes.
const (
	MutationStatic   = "STATIC"
	MutationAdaptive = "ADAPTIVE"
)

// Config holds all experiment and simulation parameters.
type Config struct {
	Dish       DishConfig       `yaml:"dish"`
	Physics    PhysicsConfig    `yaml:"physics"`
	Agent      AgentConfig      `yaml:"agent"`
	Food       FoodConfig       `yaml:"food"`
	Projectile ProjectileConfig `yaml:"projectile"`
	Raycast    RaycastConfig    `yaml:"raycast"`
	Network    NetworkConfig    `yaml:"network"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Experiment ExperimentConfig `yaml:"experiment"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// DishConfig holds dish dimensions and topology.
type DishConfig struct {
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	Toroidal bool    `yaml:"toroidal"`
}

// PhysicsConfig holds integration parameters.
type PhysicsConfig struct {
	DT       float64 `yaml:"dt"`
	Friction float64 `yaml:"friction"`
}

// AgentConfig holds per-agent physical parameters.
type AgentConfig struct {
	Radius        float64 `yaml:"radius"`
	InitialEnergy float64 `yaml:"initial_energy"`
	EnergyDecay   float64 `yaml:"energy_decay"`   // Metabolic drain per second
	MaxVelocity   float64 `yaml:"max_velocity"`
	ThrustForce   float64 `yaml:"thrust_force"`
	TurnRate      float64 `yaml:"turn_rate"`
	ShootCooldown int     `yaml:"shoot_cooldown"` // Ticks between shots
	SplitCooldown int     `yaml:"split_cooldown"`
}

// FoodConfig holds pellet parameters.
type FoodConfig struct {
	Radius      float64 `yaml:"radius"`
	EnergyValue float64 `yaml:"energy_value"`
	SpawnCount  int     `yaml:"spawn_count"`
	RespawnTime int     `yaml:"respawn_time"` // Ticks between wholesale respawns
}

// ProjectileConfig holds shot parameters.
type ProjectileConfig struct {
	Radius   float64 `yaml:"radius"`
	Speed    float64 `yaml:"speed"`
	Damage   float64 `yaml:"damage"`
	Lifetime int     `yaml:"lifetime"` // Ticks before a shot expires
}

// RaycastConfig holds perception parameters.
type RaycastConfig struct {
	Count       int     `yaml:"count"`
	MaxDistance float64 `yaml:"max_distance"`
}

// NetworkConfig holds the policy network architecture.
type NetworkConfig struct {
	InputSize    int   `yaml:"input_size"`
	HiddenLayers []int `yaml:"hidden_layers"`
	OutputSize   int   `yaml:"output_size"`
}

// EvolutionConfig holds genetic algorithm parameters.
type EvolutionConfig struct {
	PopulationSize    int     `yaml:"population_size"`
	SelectionPressure float64 `yaml:"selection_pressure"` // Top fraction kept as parents
	EliteFraction     float64 `yaml:"elite_fraction"`     // Fraction of parents copied unchanged
	MutationMode      string  `yaml:"mutation_mode"`      // STATIC or ADAPTIVE
	MutationRate      float64 `yaml:"mutation_rate"`      // Sigma for STATIC mode
	MutationBase      float64 `yaml:"mutation_base"`      // Base sigma for ADAPTIVE mode
	MutationFloor     float64 `yaml:"mutation_floor"`
	MutationCeiling   float64 `yaml:"mutation_ceiling"`
	EloK              float64 `yaml:"elo_k"`
	MaxPossibleElo    float64 `yaml:"max_possible_elo"`
	EloMatches        int     `yaml:"elo_matches"` // Pairwise matches per generation
}

// ExperimentConfig holds run-level parameters.
type ExperimentConfig struct {
	MaxGenerations     int     `yaml:"max_generations"`
	TicksPerGeneration int     `yaml:"ticks_per_generation"`
	RandomSeed         int64   `yaml:"random_seed"`
	EntropyProbes      int     `yaml:"entropy_probes"`       // Probe inputs for the entropy estimate
	DiversitySample    int     `yaml:"diversity_sample"`     // Agents sampled for the diversity metric
	CheckpointTopK     int     `yaml:"checkpoint_top_k"`     // Agents saved per checkpoint
	CheckpointInterval int     `yaml:"checkpoint_interval"`  // Generations between checkpoints
	ConvergenceVar     float64 `yaml:"convergence_variance"` // Entropy variance threshold
	StabilityWindow    int     `yaml:"stability_window"`     // Consecutive generations below threshold
	PostConvergence    int     `yaml:"post_convergence"`     // Extra generations after convergence
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	WeightCount int // Total policy parameters per agent
	NumParents  int // Evolution.PopulationSize * SelectionPressure
	EliteCount  int // Evolution.PopulationSize * EliteFraction
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. Validation happens here,
// not mid-run: a config that loads is a config the worker can finish with.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.ComputeDerived()

	return cfg, nil
}

// validate rejects configurations the genetic algorithm cannot run with.
func (c *Config) validate() error {
	switch c.Evolution.MutationMode {
	case MutationStatic, MutationAdaptive:
	default:
		return fmt.Errorf("config: unknown mutation mode %q", c.Evolution.MutationMode)
	}

	if c.Network.InputSize <= 0 || c.Network.OutputSize <= 0 {
		return fmt.Errorf("config: invalid network dimensions %dx%d",
			c.Network.InputSize, c.Network.OutputSize)
	}
	for i, h := range c.Network.HiddenLayers {
		if h <= 0 {
			return fmt.Errorf("config: invalid hidden layer %d size %d", i, h)
		}
	}
	if c.Network.InputSize != c.Raycast.Count*3 {
		return fmt.Errorf("config: input size %d does not match %d rays x 3 channels",
			c.Network.InputSize, c.Raycast.Count)
	}

	if c.Evolution.PopulationSize < 1 {
		return fmt.Errorf("config: population size %d < 1", c.Evolution.PopulationSize)
	}
	if c.Evolution.SelectionPressure <= 0 || c.Evolution.SelectionPressure > 1 {
		return fmt.Errorf("config: selection pressure %v outside (0,1]", c.Evolution.SelectionPressure)
	}
	if c.Evolution.MaxPossibleElo <= 0 {
		return fmt.Errorf("config: max possible elo %v must be positive", c.Evolution.MaxPossibleElo)
	}
	if c.Evolution.MutationFloor > c.Evolution.MutationCeiling {
		return fmt.Errorf("config: mutation floor %v above ceiling %v",
			c.Evolution.MutationFloor, c.Evolution.MutationCeiling)
	}

	return nil
}

// ComputeDerived recalculates the derived values. Load calls it; callers
// that adjust fields afterwards must call it again.
func (c *Config) ComputeDerived() {
	prev := c.Network.InputSize
	total := 0
	for _, h := range c.Network.HiddenLayers {
		total += h*prev + h
		prev = h
	}
	total += c.Network.OutputSize*prev + c.Network.OutputSize
	c.Derived.WeightCount = total

	c.Derived.NumParents = int(float64(c.Evolution.PopulationSize) * c.Evolution.SelectionPressure)
	if c.Derived.NumParents < 1 {
		c.Derived.NumParents = 1
	}
	// Elite count is a fraction of the whole population, capped by the
	// parent set it is drawn from.
	c.Derived.EliteCount = int(float64(c.Evolution.PopulationSize) * c.Evolution.EliteFraction)
}

// MutationSigma returns the standard deviation of mutation noise for an
// offspring whose parents averaged parentElo. STATIC ignores the rating;
// ADAPTIVE scales down toward the floor as lineages approach MaxPossibleElo.
func (c *Config) MutationSigma(parentElo float64) float64 {
	switch c.Evolution.MutationMode {
	case MutationAdaptive:
		sigma := c.Evolution.MutationBase * (1 - parentElo/c.Evolution.MaxPossibleElo)
		if sigma < c.Evolution.MutationFloor {
			sigma = c.Evolution.MutationFloor
		}
		if sigma > c.Evolution.MutationCeiling {
			sigma = c.Evolution.MutationCeiling
		}
		return sigma
	default:
		return c.Evolution.MutationRate
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
