// Package main provides the CLI entry point for snmpbridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wiremaps/snmpbridge/internal/logging"
)

var (
	// Version is set at build time
	Version = "dev"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "snmpbridge",
		Short: "snmpbridge - asynchronous SNMP v1/v2c collector",
		Long: `snmpbridge queries SNMP agents over UDP from a single event loop.

Use get, getnext and getbulk for one-off queries, or poll to collect
a set of OIDs from many equipments on a schedule.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !logging.ValidLevel(g.logLevel) {
				return fmt.Errorf("invalid --log-level %q (must be debug, info, warn, or error)", g.logLevel)
			}
			if !logging.ValidFormat(g.logFormat) {
				return fmt.Errorf("invalid --log-format %q (must be text or json)", g.logFormat)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format: text, json")

	rootCmd.AddCommand(queryCmd(g, "get", "Fetch the given OIDs"))
	rootCmd.AddCommand(queryCmd(g, "getnext", "Fetch the successor of each OID"))
	rootCmd.AddCommand(queryCmd(g, "getbulk", "Fetch successive OIDs in one exchange (v2c)"))
	rootCmd.AddCommand(pollCmd(g))
	rootCmd.AddCommand(initCmd())

	return rootCmd
}
