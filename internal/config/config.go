// Package config holds the engine's own runtime configuration — where it
// is rooted, where its bus socket lives, how often autopilot polls — plus
// the project-level role override and team roster shapes persona
// resolution consults. Loading a project's own config file is out of
// scope (per the specification's explicit non-goals); this package only
// defines the shapes and a viper-backed loader for the engine's own
// settings, grounded on the teacher's internal/config/config.go
// (package-level config struct, env/flag binding via viper).
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// WitnessConfig tunes the autopilot stuck-state detector.
type WitnessConfig struct {
	CheckInterval  time.Duration
	StuckThreshold time.Duration
	Enabled        bool
}

// DefaultWitnessConfig mirrors the teacher's work.DefaultWitnessConfig
// defaults, narrowed to the fields this engine's witness actually uses.
func DefaultWitnessConfig() WitnessConfig {
	return WitnessConfig{
		CheckInterval:  30 * time.Second,
		StuckThreshold: 5 * time.Minute,
		Enabled:        true,
	}
}

// EngineConfig is the engine process's own settings.
type EngineConfig struct {
	Root              string
	BusSocketPath     string
	AutopilotInterval time.Duration
	Witness           WitnessConfig
	Debug             bool
}

// Load reads engine settings from environment variables prefixed
// ORCHESTRA_ and an optional config file, falling back to sane defaults
// when nothing is set. Grounded on the teacher's viper setup: env binding
// plus explicit defaults rather than requiring a config file to exist.
func Load(configPath string) (*EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRA")
	v.AutomaticEnv()

	v.SetDefault("root", ".orchestra")
	v.SetDefault("bus_socket_path", "")
	v.SetDefault("autopilot_interval", 5*time.Second)
	v.SetDefault("witness_check_interval", 30*time.Second)
	v.SetDefault("witness_stuck_threshold", 5*time.Minute)
	v.SetDefault("witness_enabled", true)
	v.SetDefault("debug", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	root := v.GetString("root")
	busSocket := v.GetString("bus_socket_path")
	if busSocket == "" {
		busSocket = root + "/bus.sock"
	}

	return &EngineConfig{
		Root:              root,
		BusSocketPath:     busSocket,
		AutopilotInterval: v.GetDuration("autopilot_interval"),
		Witness: WitnessConfig{
			CheckInterval:  v.GetDuration("witness_check_interval"),
			StuckThreshold: v.GetDuration("witness_stuck_threshold"),
			Enabled:        v.GetBool("witness_enabled"),
		},
		Debug: v.GetBool("debug"),
	}, nil
}

// RoleOverride is a project-level override merged over a role's defaults
// during persona resolution (§4.2 step 2). Any zero-valued field leaves
// the definition's default untouched.
type RoleOverride struct {
	Agent       string
	Persona     string
	PersonaPool []string
	PersonaFrom string
	PersonaTags []string
	Tools       []string
	FileScope   *workflow.RoleFileScope
}

// TeamMember is one entry in a project's team roster, consulted when a
// RoleOverride declares PersonaTags (§4.2 step 3).
type TeamMember struct {
	Persona string
	Tags    []string
}

// ScheduledWorkflow is one cron-triggered start, per the supplemented
// scheduling feature: internal/schedule reads these and calls
// engine.Start(WorkflowType, Params) on the given cron expression.
type ScheduledWorkflow struct {
	Name         string
	WorkflowType string
	Cron         string
	Params       map[string]interface{}
}

// ProjectConfig is the subset of project configuration persona resolution
// needs. Populating it from a project's own config file is out of scope;
// callers construct it directly (or leave it empty, in which case
// resolution falls through to the definition's own role fields).
type ProjectConfig struct {
	RoleOverrides map[string]RoleOverride
	TeamRoster    []TeamMember
	Schedules     []ScheduledWorkflow
}
