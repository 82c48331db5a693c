package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/config"
)

var downCmd = &cobra.Command{
	Use:   "down <config>",
	Short: "Tear down an ecosystem's services in reverse dependency order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := config.Load(args[0])
		if err != nil {
			return err
		}

		noPolicy, _ := cmd.Flags().GetBool("no-policy")
		engine, err := buildEngine(spec, !noPolicy)
		if err != nil {
			return err
		}
		defer engine.Close()

		return engine.Down(context.Background(), spec)
	},
}
