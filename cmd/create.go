package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/liweiyi88/onebackup/backup"
	"github.com/liweiyi88/onebackup/config"
	"github.com/liweiyi88/onebackup/handler"
)

var (
	ignoreTables []string
	gzip         bool
	cronExpr     string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new backup of the database and mirror it to the configured storages.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("ignore-tables") {
			cfg.Backup.IgnoreTables = ignoreTables
		}

		if gzip {
			cfg.Backup.Gzip = true
		}

		if cmd.Flags().Changed("cron") {
			cfg.Backup.Cron = cronExpr
		}

		if strings.TrimSpace(cfg.Backup.Cron) == "" {
			return createBackup(cmd.Context(), cfg)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return scheduleBackups(ctx, cfg)
	},
}

func createBackup(ctx context.Context, cfg *config.Config) error {
	return withHandler(ctx, cfg, func(h *handler.BackupHandler, m *backup.Manager) error {
		var opts []backup.BackupOption
		if cfg.Backup.Gzip {
			opts = append(opts, backup.WithGzip())
		}

		return h.Create(ctx, m.CreateCreateConfig(opts...))
	})
}

// scheduleBackups creates a backup on every tick of the cron expression until ctx is done.
// A run that is still going when the next tick arrives makes the scheduler skip that tick.
func scheduleBackups(ctx context.Context, cfg *config.Config) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Cron(cfg.Backup.Cron).Do(func() {
		if err := createBackup(ctx, cfg); err != nil {
			slog.Error("scheduled backup failed", slog.Any("error", err))
		}
	})

	if err != nil {
		return fmt.Errorf("invalid cron expression %q, error: %v", cfg.Backup.Cron, err)
	}

	slog.Info("backups scheduled", slog.String("cron", cfg.Backup.Cron), slog.String("dir", cfg.Backup.Dir))

	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()

	slog.Info("scheduler stopped")

	return nil
}

func init() {
	createCmd.Flags().StringSliceVar(&ignoreTables, "ignore-tables", nil, "comma separated tables to leave out of the backup, overrides the config file (optional)")
	createCmd.Flags().BoolVar(&gzip, "gzip", false, "compress the backup with gzip (optional)")
	createCmd.Flags().StringVar(&cronExpr, "cron", "", "keep running and create a backup on every tick of the cron expression, e.g. \"0 3 * * *\" (optional)")
}
