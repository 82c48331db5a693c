package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/config"
	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config>",
	Short: "Validate an ecosystem configuration file without starting anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := config.Load(args[0])
		if err != nil {
			return err
		}
		printValidation(spec)

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			return nil
		}

		watcher, err := config.Watch(args[0], func(spec *types.EcosystemSpec, err error) {
			if err != nil {
				fmt.Printf("invalid: %v\n", err)
				return
			}
			printValidation(spec)
		})
		if err != nil {
			return err
		}
		defer watcher.Stop()

		fmt.Println("watching for changes, press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

func printValidation(spec *types.EcosystemSpec) {
	log.WithComponent("cmd").Debug().Str("config", spec.Name).Msg("validated")
	fmt.Printf("%s (%s): %d service(s) declared, valid.\n", spec.Name, spec.Version, len(spec.Services))
}

func init() {
	validateCmd.Flags().Bool("watch", false, "Keep watching the config file and re-validate on change")
}
