package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DatabaseMode selects how the database directory is prepared on first run.
type DatabaseMode int

const (
	// NoChanges keeps whatever database is already set up.
	NoChanges DatabaseMode = iota
	// UseInitializationWizard clears the database and lets the web app's wizard set it up.
	UseInitializationWizard
	// EmptyDatabase installs the empty seed archive.
	EmptyDatabase
	// DemoDatabase installs the demo seed archive.
	DemoDatabase
)

func (m DatabaseMode) String() string {
	switch m {
	case NoChanges:
		return "nochanges"
	case UseInitializationWizard:
		return "wizard"
	case EmptyDatabase:
		return "empty"
	case DemoDatabase:
		return "demo"
	default:
		return fmt.Sprintf("DatabaseMode(%d)", int(m))
	}
}

// SeedName returns the seed archive base name for the mode, or "" when the
// mode does not extract anything.
func (m DatabaseMode) SeedName() string {
	switch m {
	case EmptyDatabase:
		return "emptydatabase"
	case DemoDatabase:
		return "demodatabase"
	default:
		return ""
	}
}

// ParseDatabaseMode accepts the names printed by String plus the legacy
// "expert" alias for the wizard.
func ParseDatabaseMode(s string) (DatabaseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nochanges", "none":
		return NoChanges, nil
	case "wizard", "expert":
		return UseInitializationWizard, nil
	case "empty":
		return EmptyDatabase, nil
	case "demo", "":
		return DemoDatabase, nil
	default:
		return NoChanges, fmt.Errorf("unknown database mode %q", s)
	}
}

// RunState represents the runtime state in run.yml
type RunState struct {
	State   string `yaml:"state"`
	Status  string `yaml:"status"`
	Runtime struct {
		Pid       int    `yaml:"pid"`
		WebPort   int    `yaml:"web_port"`
		DBPort    int    `yaml:"db_port"`
		Context   string `yaml:"context"`
		StartTime string `yaml:"start_time,omitempty"`
	} `yaml:"runtime"`
}

// LoadRunState reads run.yml.
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rs RunState
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// SaveRunState writes run.yml.
func SaveRunState(path string, rs *RunState) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
