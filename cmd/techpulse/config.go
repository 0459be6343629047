// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ConfigCmd prints the effective configuration after defaults, file,
// environment and --set overrides. Secrets are never rendered.
type ConfigCmd struct {
	Check bool `help:"Only validate; print nothing on success."`
}

func (c *ConfigCmd) Run(cli *CLI, out io.Writer) error {
	cfg, _, err := cli.load(io.Discard)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.Check {
		return nil
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	return enc.Close()
}
