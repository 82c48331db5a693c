// Command pactown is the external collaborator that drives the
// orchestration engine from the command line: it loads an ecosystem
// configuration file, wires the real Markdown artifact parser and an
// optional security policy, and exposes up/down/status/validate/graph
// against the running engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/pactownerr"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(pactownerr.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "pactown",
	Short: "pactown orchestrates Markdown-described service ecosystems in local sandboxes",
	Long: `pactown reads an ecosystem configuration file, resolves the declared
service dependency graph, and brings each service up in its own sandbox:
port allocation, dependency environment injection, process supervision,
and startup health probing, torn down again in reverse order.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pactown version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("no-policy", false, "Disable security policy admission control")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(graphCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
