package props

import (
	"strconv"
	"strings"
)

// RuntimeConfig is a value snapshot of the launcher settings. It is built once
// per process and never mutated; WithPorts returns a modified copy.
type RuntimeConfig struct {
	WebPort     int
	DBPort      int
	ContextName string
	Schema      string
	DBBaseDir   string
	DBDataDir   string
	DBUsername  string
	DBPassword  string
	RuntimeArgs string
}

// Overrides carries command-line values that win over the file.
type Overrides struct {
	WebPort     int
	DBPort      int
	ContextName string
}

// Fallbacks fills in values that neither the file nor the overrides provide.
type Fallbacks struct {
	WebPort     int
	DBPort      int
	Schema      string
	ContextName string
	DBBaseDir   string
	DBDataDir   string
	RuntimeArgs string
}

// Snapshot merges the stored values with overrides and fallbacks.
func (s *Store) Snapshot(o Overrides, f Fallbacks) RuntimeConfig {
	url := s.Get(KeyConnectionURL)

	c := RuntimeConfig{
		WebPort:     firstPositive(o.WebPort, atoi(s.Get(KeyWebPort)), f.WebPort),
		DBPort:      firstPositive(o.DBPort, URLPort(url), f.DBPort),
		ContextName: firstNonEmpty(o.ContextName, f.ContextName),
		Schema:      firstNonEmpty(URLSchema(url), f.Schema),
		DBBaseDir:   firstNonEmpty(s.Get(KeyDBBaseDir), f.DBBaseDir),
		DBDataDir:   firstNonEmpty(s.Get(KeyDBDataDir), f.DBDataDir),
		DBUsername:  s.Get(KeyConnectionUsername),
		DBPassword:  s.Get(KeyConnectionPassword),
		RuntimeArgs: firstNonEmpty(s.Get(KeyRuntimeArguments), f.RuntimeArgs),
	}
	return c
}

// WithPorts returns a copy using the given ports.
func (c RuntimeConfig) WithPorts(webPort, dbPort int) RuntimeConfig {
	c.WebPort = webPort
	c.DBPort = dbPort
	return c
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
