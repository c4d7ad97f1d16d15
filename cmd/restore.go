package cmd

import (
	"github.com/spf13/cobra"

	"github.com/liweiyi88/onebackup/backup"
	"github.com/liweiyi88/onebackup/handler"
)

var (
	force      bool
	bufferSize int
)

var restoreCmd = &cobra.Command{
	Use:   "restore [backup name]",
	Short: "Restore the latest backup, or the named one, into the database.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		return withHandler(ctx, cfg, func(h *handler.BackupHandler, m *backup.Manager) error {
			var config backup.RestoreConfig

			if len(args) == 1 {
				b, err := m.GetBackupByName(args[0])
				if err != nil {
					return err
				}

				config = backup.NewRestoreConfig(b)
			} else {
				config, err = m.CreateRestoreConfig()
				if err != nil {
					return err
				}
			}

			config = config.WithIgnoreOriginCheck(force).WithBufferSize(bufferSize)

			return h.Restore(ctx, config)
		})
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&force, "force", false, "restore dumps that were not generated by this tool (optional)")
	restoreCmd.Flags().IntVar(&bufferSize, "buffer-size", backup.DefaultBufferSize, "the longest statement in bytes a restore can read (optional)")
}
