package fileutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// WorkDir falls back to the home directory and then the temp directory.
func WorkDir() string {
	dir, err := os.Getwd()
	if err != nil {
		slog.Warn("cannot get the current directory, using $HOME directory", slog.Any("error", err))

		dir, err = os.UserHomeDir()
		if err != nil {
			slog.Warn("cannot get the user home directory, using temp directory", slog.Any("error", err))
			dir = os.TempDir()
		}
	}

	return dir
}

func DefaultBackupDir() string {
	return filepath.Join(WorkDir(), "var", "backups")
}

// FileSize returns -1 when the reader is not a file or its size is unknown.
func FileSize(reader any) int64 {
	file, ok := reader.(*os.File)
	if !ok {
		return -1
	}

	info, err := file.Stat()
	if err != nil {
		return -1
	}

	return info.Size()
}
