package main

import (
	"github.com/spf13/cobra"

	"github.com/wiremaps/snmpbridge/internal/wizard"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively create a poll configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}
