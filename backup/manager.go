package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Connection is the part of a database connection the manager and dumpers rely on.
type Connection interface {
	IsAutoCommit() bool
	SetAutoCommit(ctx context.Context, autoCommit bool) error
	ExecuteQuery(ctx context.Context, query string) error
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Transactional(ctx context.Context, fn func(ctx context.Context) error) error
}

// Dumper writes the content of the database to the backup of the given config.
type Dumper interface {
	Dump(ctx context.Context, conn Connection, config CreateConfig) error
}

// Manager creates, lists, prunes and restores the backups of one directory.
// The directory listing is the only source of truth, it is scanned on every call.
// Callers must serialize create and restore calls on the same directory.
type Manager struct {
	conn           Connection
	dumper         Dumper
	dir            string
	tablesToIgnore []string
	retention      int
}

// NewManager returns a manager keeping at most retention backups in dir, retention <= 0 keeps all of them.
func NewManager(conn Connection, dumper Dumper, dir string, tablesToIgnore []string, retention int) *Manager {
	return &Manager{
		conn:           conn,
		dumper:         dumper,
		dir:            dir,
		tablesToIgnore: tablesToIgnore,
		retention:      retention,
	}
}

// Dir is the directory the manager lists and writes backups in.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) CreateCreateConfig(opts ...BackupOption) CreateConfig {
	return NewCreateConfig(CreateNewAtPath(m.dir, opts...)).WithTablesToIgnore(m.tablesToIgnore)
}

func (m *Manager) CreateRestoreConfig() (RestoreConfig, error) {
	latest, err := m.GetLatestBackup()
	if err != nil {
		return RestoreConfig{}, err
	}

	return NewRestoreConfig(latest), nil
}

// ListBackups returns the backups of the directory, newest first.
// Sub directories and files that are not named like a backup are ignored.
func (m *Manager) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Backup{}, nil
		}

		return nil, fmt.Errorf("fail to read backup dir %s, error: %v", m.dir, err)
	}

	backups := make([]Backup, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		backup, err := ParseBackup(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}

		if info, err := entry.Info(); err == nil {
			backup = backup.withSize(info.Size())
		}

		backups = append(backups, backup)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].CreatedAt().After(backups[j].CreatedAt())
	})

	return backups, nil
}

func (m *Manager) GetLatestBackup() (Backup, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return Backup{}, err
	}

	if len(backups) == 0 {
		return Backup{}, newManagerError(ErrNoBackups, "no backups found")
	}

	return backups[0], nil
}

// GetBackupByName looks a backup up by its file name inside the directory.
func (m *Manager) GetBackupByName(name string) (Backup, error) {
	if !IsValidBackupName(name) {
		return Backup{}, newManagerError(ErrInvalidBackupName, "%q is not a valid backup name", name)
	}

	backups, err := m.ListBackups()
	if err != nil {
		return Backup{}, err
	}

	for _, backup := range backups {
		if backup.Name() == name {
			return backup, nil
		}
	}

	return Backup{}, newManagerError(ErrDumpMissing, "dump does not exist at \"%s\"", filepath.Join(m.dir, name))
}

// Create dumps the database and prunes the oldest backups afterwards.
// A failed dump leaves the directory untouched, including the partially written file.
func (m *Manager) Create(ctx context.Context, config CreateConfig) error {
	backup := config.Backup()
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(backup.Filepath()), 0750); err != nil {
		return wrapManagerError(ErrDumpFailed, fmt.Errorf("fail to create backup dir, error: %v", err))
	}

	err := m.executeTransactional(ctx, func(ctx context.Context) error {
		return m.dumper.Dump(ctx, m.conn, config)
	})

	if err != nil {
		slog.Error("fail to create backup", slog.String("backup", backup.Filepath()), slog.Any("error", err))
		return wrapManagerError(ErrDumpFailed, err)
	}

	slog.Info("backup created", slog.String("backup", backup.Filepath()), slog.Duration("elapsed", time.Since(start)))

	return m.tidyDirectory()
}

func (m *Manager) tidyDirectory() error {
	if m.retention <= 0 {
		return nil
	}

	backups, err := m.ListBackups()
	if err != nil {
		return err
	}

	if len(backups) <= m.retention {
		return nil
	}

	var errs error
	for _, backup := range backups[m.retention:] {
		slog.Debug("removing old backup", slog.String("backup", backup.Filepath()))

		if err := os.Remove(backup.Filepath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, fmt.Errorf("fail to remove old backup %s, error: %v", backup.Filepath(), err))
		}
	}

	return errs
}

// Restore replays the statements of a backup in a single transaction.
func (m *Manager) Restore(ctx context.Context, config RestoreConfig) error {
	backup := config.Backup()

	file, err := os.Open(backup.Filepath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newManagerError(ErrDumpMissing, "dump does not exist at \"%s\"", backup.Filepath())
		}

		return wrapManagerError(ErrDumpUnreadable, fmt.Errorf("fail to open dump %s, error: %v", backup.Filepath(), err))
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close dump file", slog.String("dumpFile", backup.Filepath()), slog.Any("error", err))
		}
	}()

	content, err := decompress(file)
	if err != nil {
		return wrapManagerError(ErrQueryFailed, err)
	}

	defer func() {
		if err := content.Close(); err != nil {
			slog.Error("fail to close dump reader", slog.Any("error", err))
		}
	}()

	statements := NewStatementReader(content, config.BufferSize())

	if !config.IgnoreOriginCheck() {
		header, _ := statements.FirstLine()

		if err := statements.Err(); err != nil {
			return wrapManagerError(ErrQueryFailed, err)
		}

		if header != Header {
			return newManagerError(ErrForeignDump, "the %s database importer only supports dumps generated by %s", ProductName, ProductName)
		}
	}

	start := time.Now()
	executed := 0

	err = m.executeTransactional(ctx, func(ctx context.Context) error {
		for {
			statement, ok := statements.Next()
			if !ok {
				return statements.Err()
			}

			slog.Debug("executing statement", slog.String("statement", statement))

			if err := m.conn.ExecuteQuery(ctx, statement); err != nil {
				return err
			}

			executed++
		}
	})

	if err != nil {
		slog.Error("fail to restore backup", slog.String("backup", backup.Filepath()), slog.Int("executed", executed), slog.Any("error", err))
		return wrapManagerError(ErrQueryFailed, err)
	}

	slog.Info("backup restored",
		slog.String("backup", backup.Filepath()),
		slog.Int("statements", executed),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// Autocommit is switched off around the transaction when it was on, and switched back on in every exit path.
func (m *Manager) executeTransactional(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if m.conn.IsAutoCommit() {
		if err := m.conn.SetAutoCommit(ctx, false); err != nil {
			return err
		}

		defer func() {
			if resetErr := m.conn.SetAutoCommit(ctx, true); resetErr != nil {
				slog.Error("fail to enable autocommit", slog.Any("error", resetErr))
				if err == nil {
					err = resetErr
				}
			}
		}()
	}

	return m.conn.Transactional(ctx, fn)
}
