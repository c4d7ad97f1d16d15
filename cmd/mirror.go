package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Upload the local backups that were not mirrored yet to the configured storages.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := cfg.ResolveStorageEnv(os.LookupEnv); err != nil {
			return err
		}

		return newHandler(cfg, newManager(cfg)).Mirror(cmd.Context())
	},
}
