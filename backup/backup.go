package backup

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
)

const (
	ProductName     = "Onebackup"
	DumperVersion   = "v1"
	filenamePrefix  = "backup__"
	timestampLayout = "20060102150405"
	sqlExt          = ".sql"
	gzipExt         = ".gz"
)

// Header is the first line of every dump generated by this module.
var Header = fmt.Sprintf("-- Generated by %s Backup Manager (version: %s).", ProductName, DumperVersion)

var backupNameRegex = regexp.MustCompile(`^backup__(\d{14})\.sql(\.gz)?$`)

type Backup struct {
	filepath  string
	createdAt time.Time
	size      int64
}

type newBackup struct {
	createdAt time.Time
	gzip      bool
}

type BackupOption func(nb *newBackup)

// Stamp the backup with a given time instead of now.
func WithCreatedAt(createdAt time.Time) BackupOption {
	return func(nb *newBackup) {
		nb.createdAt = createdAt
	}
}

// Name the backup with a .gz suffix so the dumper compresses its content.
func WithGzip() BackupOption {
	return func(nb *newBackup) {
		nb.gzip = true
	}
}

// CreateNewAtPath composes a new backup path inside dir. It does not touch the filesystem.
func CreateNewAtPath(dir string, opts ...BackupOption) Backup {
	nb := &newBackup{createdAt: time.Now()}

	for _, opt := range opts {
		opt(nb)
	}

	createdAt := nb.createdAt.UTC().Truncate(time.Second)
	name := filenamePrefix + createdAt.Format(timestampLayout) + sqlExt

	if nb.gzip {
		name += gzipExt
	}

	return Backup{
		filepath:  filepath.Join(dir, name),
		createdAt: createdAt,
	}
}

// ParseBackup recognises a backup from its file path.
func ParseBackup(path string) (Backup, error) {
	name := filepath.Base(path)

	matches := backupNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return Backup{}, fmt.Errorf("%w: %s", ErrInvalidBackupName, name)
	}

	createdAt, err := time.ParseInLocation(timestampLayout, matches[1], time.UTC)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s", ErrInvalidBackupName, name)
	}

	return Backup{
		filepath:  path,
		createdAt: createdAt,
	}, nil
}

func IsValidBackupName(name string) bool {
	_, err := ParseBackup(name)
	return err == nil && filepath.Base(name) == name
}

func (b Backup) Filepath() string {
	return b.filepath
}

func (b Backup) Name() string {
	return filepath.Base(b.filepath)
}

func (b Backup) CreatedAt() time.Time {
	return b.createdAt
}

// Size in bytes, known only for backups returned by a directory listing.
func (b Backup) Size() int64 {
	return b.size
}

func (b Backup) Gzipped() bool {
	return filepath.Ext(b.filepath) == gzipExt
}

func (b Backup) withSize(size int64) Backup {
	b.size = size
	return b
}

func (b Backup) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string `json:"name"`
		CreatedAt string `json:"createdAt"`
		Size      int64  `json:"size"`
	}{
		Name:      b.Name(),
		CreatedAt: b.createdAt.Format(time.RFC3339),
		Size:      b.size,
	})
}
