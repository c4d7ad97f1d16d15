package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/liweiyi88/onebackup/backup"
	"github.com/liweiyi88/onebackup/config"
	"github.com/liweiyi88/onebackup/dbconn"
	"github.com/liweiyi88/onebackup/dumper"
	"github.com/liweiyi88/onebackup/handler"
	"github.com/liweiyi88/onebackup/notifier/console"
)

// loadConfig reads the config file and lets the persistent flags override it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("dir") {
		cfg.Backup.Dir = dir
	}

	if cmd.Flags().Changed("retention") {
		if retention < 0 {
			return nil, config.ErrInvalidRetention
		}

		cfg.Backup.Retention = retention
	}

	cfg.ResolveBackupDir(os.LookupEnv)

	return cfg, nil
}

// newManager returns a manager that can only read the backup directory.
func newManager(cfg *config.Config) *backup.Manager {
	return backup.NewManager(nil, nil, cfg.Backup.Dir, cfg.Backup.IgnoreTables, cfg.Backup.Retention)
}

// withHandler connects to the database, runs fn and closes the connection afterwards.
func withHandler(ctx context.Context, cfg *config.Config, fn func(h *handler.BackupHandler, m *backup.Manager) error) error {
	if err := cfg.ResolveEnv(os.LookupEnv); err != nil {
		return err
	}

	conn, err := dbconn.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}

	defer func() {
		if err := conn.Close(); err != nil {
			slog.Error("fail to close database connection", slog.Any("error", err))
		}
	}()

	dump := dumper.NewMysqlNativeDump(cfg.Backup.DumperOptions()...)
	manager := backup.NewManager(conn, dump, cfg.Backup.Dir, cfg.Backup.IgnoreTables, cfg.Backup.Retention)

	return fn(newHandler(cfg, manager), manager)
}

func newHandler(cfg *config.Config, manager *backup.Manager) *handler.BackupHandler {
	notifiers := []handler.Notifier{console.New()}
	for _, slack := range cfg.Notifier.Slack {
		notifiers = append(notifiers, slack)
	}

	return handler.NewBackupHandler(manager,
		handler.WithStorages(cfg.Storages()),
		handler.WithNotifiers(notifiers...),
	)
}
