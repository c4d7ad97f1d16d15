package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/liweiyi88/onebackup/backup"
	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/jobresult"
	"github.com/liweiyi88/onebackup/storage"
)

type Notifier interface {
	Notify(ctx context.Context, results []*jobresult.JobResult) error
}

// BackupHandler runs manager jobs, mirrors new backups to the configured storages and reports the results.
type BackupHandler struct {
	manager   *backup.Manager
	storages  []storage.Storage
	notifiers []Notifier
}

type Option func(*BackupHandler)

func WithStorages(storages []storage.Storage) Option {
	return func(h *BackupHandler) {
		h.storages = storages
	}
}

func WithNotifiers(notifiers ...Notifier) Option {
	return func(h *BackupHandler) {
		h.notifiers = append(h.notifiers, notifiers...)
	}
}

func NewBackupHandler(manager *backup.Manager, opts ...Option) *BackupHandler {
	h := &BackupHandler{manager: manager}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Create makes a new backup and mirrors it. A failed mirror never removes the local backup.
func (h *BackupHandler) Create(ctx context.Context, config backup.CreateConfig) error {
	start := time.Now()
	created := config.Backup()

	result := &jobresult.JobResult{
		JobName: "create",
		Backup:  created.Name(),
	}

	err := h.manager.Create(ctx, config)
	if err == nil {
		if mirrorErr := h.mirror(ctx, created); mirrorErr != nil {
			err = fmt.Errorf("backup %s created but could not be mirrored, error: %w", created.Name(), mirrorErr)
		}
	}

	result.Error = err
	result.Elapsed = time.Since(start)

	h.notify(ctx, []*jobresult.JobResult{result})

	return err
}

func (h *BackupHandler) Restore(ctx context.Context, config backup.RestoreConfig) error {
	start := time.Now()

	err := h.manager.Restore(ctx, config)

	h.notify(ctx, []*jobresult.JobResult{{
		JobName: "restore",
		Backup:  config.Backup().Name(),
		Error:   err,
		Elapsed: time.Since(start),
	}})

	return err
}

// Mirror pushes every local backup the storages have not received yet.
func (h *BackupHandler) Mirror(ctx context.Context) error {
	if len(h.storages) == 0 {
		slog.Info("no storages configured, nothing to mirror")
		return nil
	}

	backups, err := h.manager.ListBackups()
	if err != nil {
		return err
	}

	var mirrorErr error
	results := make([]*jobresult.JobResult, 0, len(backups))

	for _, b := range backups {
		start := time.Now()

		err := h.mirror(ctx, b)
		if err != nil {
			mirrorErr = errors.Join(mirrorErr, err)
		}

		results = append(results, &jobresult.JobResult{
			JobName: "mirror",
			Backup:  b.Name(),
			Error:   err,
			Elapsed: time.Since(start),
		})
	}

	h.notify(ctx, results)

	return mirrorErr
}

func (h *BackupHandler) mirror(ctx context.Context, b backup.Backup) error {
	if len(h.storages) == 0 {
		return nil
	}

	checksum := fileutil.NewChecksum(b.Filepath())

	transferred, err := checksum.IsFileTransferred()
	if err != nil {
		return err
	}

	if transferred {
		slog.Debug("backup already mirrored, skip", slog.String("backup", b.Name()))
		return nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs error

	wg.Add(len(h.storages))

	for _, s := range h.storages {
		go func(s storage.Storage) {
			defer wg.Done()

			if err := saveFile(ctx, s, b); err != nil {
				mu.Lock()
				errs = errors.Join(errs, err)
				mu.Unlock()
			}
		}(s)
	}

	wg.Wait()

	if errs != nil {
		return errs
	}

	return checksum.SaveState()
}

// Each storage reads its own file handle so the uploads can run side by side.
func saveFile(ctx context.Context, s storage.Storage, b backup.Backup) error {
	file, err := os.Open(b.Filepath())
	if err != nil {
		return fmt.Errorf("fail to open backup %s, error: %v", b.Filepath(), err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close backup file", slog.String("backup", b.Filepath()), slog.Any("error", err))
		}
	}()

	return s.Save(ctx, file, b.Name())
}

func (h *BackupHandler) notify(ctx context.Context, results []*jobresult.JobResult) {
	var wg sync.WaitGroup
	wg.Add(len(h.notifiers))

	for _, notifier := range h.notifiers {
		go func(notifier Notifier) {
			defer wg.Done()

			if err := notifier.Notify(ctx, results); err != nil {
				slog.Error("fail to send notification", slog.Any("error", err))
			}
		}(notifier)
	}

	wg.Wait()
}
