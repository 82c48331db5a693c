package main

import (
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/config"
	"github.com/cuemby/pactown/pkg/registry"
	"github.com/cuemby/pactown/pkg/types"
)

// alwaysAlive trusts the persisted registry file: status is a read-only
// report against whatever was last written, not a liveness probe, since
// a fresh CLI invocation has no in-memory record of another process's
// supervised children.
type alwaysAlive struct{}

func (alwaysAlive) IsAlive(string) bool { return true }

var statusCmd = &cobra.Command{
	Use:   "status <config>",
	Short: "Report each service's last known lifecycle state and endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := config.Load(args[0])
		if err != nil {
			return err
		}

		reg, err := registry.Load(spec.SandboxRoot, alwaysAlive{})
		if err != nil {
			return err
		}

		names := make([]string, 0, len(spec.Services))
		for name := range spec.Services {
			names = append(names, name)
		}
		sort.Strings(names)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATE"),
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("ENDPOINT"),
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("HEALTH CHECK"),
		})
		for _, name := range names {
			ep := reg.Get(name)
			state := types.StateCreated
			endpoint := "-"
			health := "-"
			if ep != nil {
				state = types.StateRunning
				endpoint = ep.Host + ":" + strconv.Itoa(ep.Port)
				health = ep.HealthCheck
			}
			t.AppendRow(table.Row{name, string(state), endpoint, health})
		}
		t.Render()
		return nil
	},
}
