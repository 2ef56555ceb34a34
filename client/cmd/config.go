package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpi-update-ota/ota-agent/util"
)

var (
	forceConfig bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "manages the agent config file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "writes the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if util.FileExists(configPath) && !forceConfig {
				return fmt.Errorf("config file %s already exists, use --force to overwrite it", configPath)
			}
			if err := agentConfig.Save(cmd.Context(), configPath); err != nil {
				return err
			}
			cmd.Printf("config written to %s\n", configPath)
			return nil
		},
	}
)

func init() {
	configInitCmd.Flags().BoolVar(&forceConfig, "force", false, "overwrite an existing config file")
}
