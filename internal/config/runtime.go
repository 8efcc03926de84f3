package config

// Mode is the coarse safety profile determining tool permissions.
type Mode string

const (
	ModeBeginner   Mode = "beginner"
	ModePro        Mode = "pro"
	ModeSafe       Mode = "safe"
	ModeSimulation Mode = "simulation"
	ModeTraining   Mode = "training"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBeginner, ModePro, ModeSafe, ModeSimulation, ModeTraining:
		return true
	}
	return false
}

// SimulationOnly reports whether the mode forces every tool into
// simulation regardless of per-tool configuration.
func (m Mode) SimulationOnly() bool {
	switch m {
	case ModeSafe, ModeSimulation, ModeTraining:
		return true
	}
	return false
}

// RuntimeConfig is the mutable operational state threaded explicitly through
// the planner and permission gate. It deliberately replaces process-global
// flags; the event bus is the only remaining singleton.
type RuntimeConfig struct {
	Mode        Mode `yaml:"mode"`
	SimulateAll bool `yaml:"simulate_all"`
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{Mode: ModePro}
}
