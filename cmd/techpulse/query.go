// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/manager"
)

// QueryCmd runs one request in-process and prints the outcome.
type QueryCmd struct {
	Query      string        `arg:"" optional:"" help:"Free-text query."`
	Role       string        `help:"Role that handles the query (entry, specialist)." default:"entry" enum:"entry,specialist"`
	Source     []string      `help:"Restrict to these sources (search, discussion, code). Repeatable."`
	Repository []string      `name:"repo" help:"Repository in owner/repo form. Repeatable."`
	Limit      int           `help:"Maximum number of items (0 uses orchestrator.default_limit)."`
	Timeout    time.Duration `help:"Overall time bound (0 uses orchestrator.request_timeout)."`
	JSON       bool          `help:"Print the outcome as JSON."`

	// options are extra manager options; tests use them to stub tools and models.
	options []manager.Option `kong:"-"`
}

func (c *QueryCmd) Run(cli *CLI, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, role, err := c.request()
	if err != nil {
		return err
	}
	cfg, logger, err := cli.load(os.Stderr)
	if err != nil {
		return err
	}
	rt, err := start(ctx, cfg, logger, c.options...)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	outcome, execErr := rt.mgr.ExecuteRole(ctx, role, req)
	if outcome == nil {
		return execErr
	}
	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	} else if err := printOutcome(out, outcome); err != nil {
		return err
	}
	return execErr
}

func (c *QueryCmd) request() (core.Request, core.AgentRole, error) {
	role, err := core.ParseRole(c.Role)
	if err != nil {
		return core.Request{}, "", err
	}
	req := core.Request{
		Query:        strings.TrimSpace(c.Query),
		Repositories: c.Repository,
		Options:      core.Options{Limit: c.Limit, Timeout: c.Timeout},
	}
	for _, raw := range c.Source {
		for _, part := range strings.Split(raw, ",") {
			src, err := core.ParseSource(part)
			if err != nil {
				return req, role, err
			}
			req.Options.Sources = append(req.Options.Sources, src)
		}
	}
	if req.Query == "" && len(req.Repositories) == 0 {
		return req, role, fmt.Errorf("a query or at least one --repo is required")
	}
	return req, role, nil
}

func printOutcome(w io.Writer, o *core.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tSOURCE\tTITLE\tURL")
	for i, it := range o.Items {
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\t%s\n", i+1, it.Score, it.Source, it.Title, it.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if o.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", o.Summary)
	}
	if len(o.Errors) > 0 {
		fmt.Fprintln(w, "\nfaults:")
		for _, f := range o.Errors {
			where := f.Binding
			if where == "" {
				where = string(f.Role)
			}
			if where == "" {
				where = string(f.Kind)
			}
			fmt.Fprintf(w, "  %s %s: %s\n", where, f.Code, f.Message)
		}
	}
	return nil
}
