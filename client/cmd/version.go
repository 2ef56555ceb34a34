package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rpi-update-ota/ota-agent/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the agent version",
	// the version is printed without a config
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.AgentVersion())
	},
}
