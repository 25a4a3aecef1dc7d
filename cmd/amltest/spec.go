package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is one YAML scenario: a set of tables to load plus expectations to
// evaluate against the resulting namespace.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Tables lists definition block files, DSDT first.
	Tables []string `yaml:"tables"`

	// InitNamespace runs the _STA/_INI pass after loading.
	InitNamespace bool `yaml:"init_namespace"`

	// Memory seeds simulated physical memory before evaluation.
	Memory []MemorySeed `yaml:"memory"`

	// IOPorts seeds simulated port I/O space.
	IOPorts []PortSeed `yaml:"io_ports"`

	Tests []TestCase `yaml:"tests"`

	// baseDir resolves table paths relative to the spec file.
	baseDir string
}

// MemorySeed preloads guest memory with hex encoded bytes.
type MemorySeed struct {
	Addr  uint64 `yaml:"addr"`
	Bytes string `yaml:"bytes"`
}

// PortSeed preloads one I/O port byte.
type PortSeed struct {
	Port  uint32 `yaml:"port"`
	Value uint8  `yaml:"value"`
}

// TestCase evaluates one method and checks the result.
type TestCase struct {
	Name   string      `yaml:"name"`
	Method string      `yaml:"method"`
	Args   []ArgValue  `yaml:"args"`
	Expect Expectation `yaml:"expect"`
}

// ArgValue is an integer or string method argument.
type ArgValue struct {
	Integer *uint64 `yaml:"integer"`
	String  *string `yaml:"string"`
}

// Expectation describes the wanted evaluation outcome. Exactly one of the
// value fields should be set; Status defaults to success.
type Expectation struct {
	Status  string  `yaml:"status"`
	Integer *uint64 `yaml:"integer"`
	String  *string `yaml:"string"`
	Buffer  string  `yaml:"buffer"`
}

// LoadSpec reads and validates one scenario file.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse spec %s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = path
	}
	if len(spec.Tables) == 0 {
		return nil, fmt.Errorf("spec %s: no tables listed", path)
	}
	for i, tc := range spec.Tests {
		if tc.Method == "" {
			return nil, fmt.Errorf("spec %s: test %d has no method", path, i)
		}
	}
	for _, seed := range spec.Memory {
		if _, err := hex.DecodeString(seed.Bytes); err != nil {
			return nil, fmt.Errorf("spec %s: memory seed at 0x%x: %w", path, seed.Addr, err)
		}
	}
	return &spec, nil
}
