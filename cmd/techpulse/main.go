// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command techpulse runs the tech-trend agents as an HTTP service or answers
// one query from the command line.
//
// Usage:
//
//	techpulse serve --config techpulse.yaml
//	techpulse query "rust async runtimes" --source search --source discussion
//	techpulse config --set llm.model=llama3.2
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

// CLI defines the command-line interface.
type CLI struct {
	Serve      ServeCmd   `cmd:"" help:"Start the HTTP API and A2A endpoints."`
	Query      QueryCmd   `cmd:"" help:"Run one query and print the ranked trends."`
	ShowConfig ConfigCmd  `cmd:"" name:"config" help:"Print the effective configuration."`
	Version    VersionCmd `cmd:"" help:"Show version information."`

	ConfigFile string   `name:"config" short:"c" help:"Path to the YAML config file." type:"path" env:"TECHPULSE_CONFIG"`
	Set        []string `short:"s" sep:"none" help:"Override a config key (key=value). Repeatable." placeholder:"KEY=VALUE"`
	LogLevel   string   `help:"Log level (debug, info, warn, error). Overrides log.level."`
	LogFormat  string   `help:"Log format (text, json). Overrides log.format."`
}

// load reads the configuration and installs the default logger.
func (c *CLI) load(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithOverrides(c.ConfigFile, c.Set)
	if err != nil {
		return nil, nil, err
	}
	level, format := cfg.Log.Level, cfg.Log.Format
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	if c.LogFormat != "" {
		format = c.LogFormat
	}
	return cfg, telemetry.ConfigureSlog(logOut, level, format), nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(out io.Writer) error {
	_, err := fmt.Fprintf(out, "techpulse %s\n", buildVersion())
	return err
}

func buildVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("techpulse"),
		kong.Description("Multi-agent technology trend analysis over MCP tools and A2A delegation."),
		kong.UsageOnError(),
	)
	ctx.BindTo(os.Stdout, (*io.Writer)(nil))
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
