// Package cli defines the forge command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/eidolabs/forge/internal/app/config"
	infraConfig "github.com/eidolabs/forge/internal/infra/config"
)

// globalConfig holds the loaded configuration for all commands
var globalConfig appconfig.Config

func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge",
		Short: "Autonomous MVP build pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Priority: settings file > ENV > defaults
			cfg := appconfig.Load()

			settingsPath := ".forge/settings.yaml"
			if p := os.Getenv("FORGE_SETTINGS"); p != "" {
				settingsPath = p
			}
			settings, err := infraConfig.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			settings.Apply(&cfg)

			globalConfig = cfg
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newRecoverCmd())
	return cmd
}
