package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/config"
	"github.com/cuemby/pactown/pkg/resolver"
)

var graphCmd = &cobra.Command{
	Use:   "graph <config>",
	Short: "Print the resolved start-up order for an ecosystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := config.Load(args[0])
		if err != nil {
			return err
		}

		order, err := resolver.Resolve(spec)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("ORDER"),
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
			text.Colors{text.FgHiBlue, text.Bold}.Sprint("DEPENDS ON"),
		})
		for i, name := range order {
			svc := spec.Services[name]
			var deps string
			for j, d := range svc.DependsOn {
				if j > 0 {
					deps += ", "
				}
				deps += d.Name
			}
			t.AppendRow(table.Row{i + 1, name, deps})
		}
		t.Render()
		return nil
	},
}
