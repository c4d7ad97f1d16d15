package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile, dir string
	retention       int
	verbose         bool
)

var RootCmd = &cobra.Command{
	Use:           "onebackup",
	Short:         "Create, list, restore and mirror MySQL database backups.",
	Long:          "Create, list, restore and mirror MySQL database backups. Backups are kept in a local directory and can be mirrored to local, s3, sftp, gdrive and dropbox storages.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "yaml config file path (optional)")
	RootCmd.PersistentFlags().StringVar(&dir, "dir", "", "the backup directory, default: $BACKUP_DIR or ./var/backups (optional)")
	RootCmd.PersistentFlags().IntVar(&retention, "retention", 0, "the number of backups to keep, 0 keeps every backup, default: 5 (optional)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "prints additional debug information (optional)")

	RootCmd.AddCommand(createCmd, listCmd, restoreCmd, mirrorCmd)
}
