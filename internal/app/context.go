package app

import (
	"chaseline/internal/config"
)

// ResolveConfig loads the workspace config, falling back to built-in
// defaults when no chaseline.yml exists. Commands that mutate state work out
// of the box in a fresh workspace; `chaseline config init` writes the file
// for tuning.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
