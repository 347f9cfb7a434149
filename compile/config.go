package compile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk compiler configuration. Flags on the command
// line override whatever the file sets.
type Config struct {
	// RedimClears controls whether REDIM without PRESERVE zero-fills
	// the reallocated storage.
	RedimClears *bool `yaml:"redim_clears"`

	// VerifyCFG runs the structural invariant checker after every build.
	VerifyCFG bool `yaml:"verify_cfg"`

	// Debug dumps
	DumpAST bool `yaml:"dump_ast"`
	DumpCFG bool `yaml:"dump_cfg"`
	Verbose bool `yaml:"verbose"`
}

// LoadConfig reads a yaml config file. A missing path yields defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Apply folds the file configuration into pipeline options.
func (c *Config) Apply(opts *PipelineOptions) {
	if c.RedimClears != nil {
		opts.Emit.RedimClears = *c.RedimClears
	}
	opts.VerifyCFG = opts.VerifyCFG || c.VerifyCFG
	opts.DumpAST = opts.DumpAST || c.DumpAST
	opts.DumpCFG = opts.DumpCFG || c.DumpCFG
	opts.Verbose = opts.Verbose || c.Verbose
}
