package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/liweiyi88/onebackup/storage"
)

// Local copies backups to another directory, typically a mounted network drive.
type Local struct {
	Path string `yaml:"path"`
}

func (local *Local) Save(ctx context.Context, reader io.Reader, name string) (err error) {
	if err := os.MkdirAll(local.Path, 0750); err != nil {
		return fmt.Errorf("failed to create local mirror dir: %w", err)
	}

	path := filepath.Join(local.Path, name)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create local mirror file: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close local mirror file: %w", closeErr)
		}

		if err != nil {
			if removeErr := os.Remove(path); removeErr != nil {
				slog.Error("fail to remove incomplete local mirror file", slog.String("path", path), slog.Any("error", removeErr))
			}
		}
	}()

	if _, err = io.Copy(file, storage.NewContextReader(ctx, reader)); err != nil {
		return fmt.Errorf("failed to copy backup to the local mirror: %w", err)
	}

	return nil
}
