package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liweiyi88/onebackup/dumper"
	"github.com/liweiyi88/onebackup/env"
	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/notifier/slack"
	"github.com/liweiyi88/onebackup/storage"
	"github.com/liweiyi88/onebackup/storage/dropbox"
	"github.com/liweiyi88/onebackup/storage/gdrive"
	"github.com/liweiyi88/onebackup/storage/local"
	"github.com/liweiyi88/onebackup/storage/s3"
	"github.com/liweiyi88/onebackup/storage/sftp"
)

const DefaultRetention = 5

var (
	ErrInvalidRetention     = errors.New("backup retention must not be negative")
	ErrInvalidRowsPerInsert = errors.New("backup rows-per-insert must not be negative")
	ErrMissingLocalPath     = errors.New("local storage path is required")
	ErrMissingS3Bucket      = errors.New("s3 storage bucket is required")
	ErrMissingSftpConfig    = errors.New("sftp storage requires path, sshhost, sshuser and sshkey")
	ErrMissingGDriveConfig  = errors.New("gdrive storage requires email and privatekey")
	ErrMissingDropboxConfig = errors.New("dropbox storage requires refreshtoken, clientid and clientsecret")
	ErrMissingSlackWebhook  = errors.New("slack notifier requires incomingwebhook")
)

type Backup struct {
	Dir           string   `yaml:"dir"`
	Retention     int      `yaml:"retention"` // 0 keeps every backup
	Gzip          bool     `yaml:"gzip"`
	IgnoreTables  []string `yaml:"ignore-tables"`
	RowsPerInsert int      `yaml:"rows-per-insert"`
	Cron          string   `yaml:"cron"`

	// SkipAddDropTable leaves the DROP TABLE IF EXISTS statements out of the dump.
	SkipAddDropTable bool `yaml:"skip-add-drop-table"`
}

// DumperOptions maps the backup settings onto the native dumper.
func (b Backup) DumperOptions() []dumper.Option {
	opts := []dumper.Option{dumper.WithRowsPerInsert(b.RowsPerInsert)}

	if b.SkipAddDropTable {
		opts = append(opts, dumper.WithSkipAddDropTable())
	}

	return opts
}

type Storage struct {
	Local   []*local.Local     `yaml:"local"`
	S3      []*s3.S3           `yaml:"s3"`
	Sftp    []*sftp.Sftp       `yaml:"sftp"`
	GDrive  []*gdrive.GDrive   `yaml:"gdrive"`
	Dropbox []*dropbox.Dropbox `yaml:"dropbox"`
}

type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Backup   Backup  `yaml:"backup"`
	Storage  Storage `yaml:"storage"`
	Notifier struct {
		Slack []*slack.Slack `yaml:"slack"`
	} `yaml:"notifier"`
}

func Default() *Config {
	return &Config{
		Backup: Backup{
			Retention: DefaultRetention,
		},
	}
}

// Parse keeps the defaults for every key the yaml content leaves out.
func Parse(content []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, fmt.Errorf("fail to parse config, error: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration, error: %w", err)
	}

	return config, nil
}

// Load reads the yaml config file, an empty path yields the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fail to read config file %s, error: %v", path, err)
	}

	return Parse(content)
}

func blank(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return true
		}
	}

	return false
}

func (config *Config) Validate() error {
	var errs error

	if config.Backup.Retention < 0 {
		errs = errors.Join(errs, ErrInvalidRetention)
	}

	if config.Backup.RowsPerInsert < 0 {
		errs = errors.Join(errs, ErrInvalidRowsPerInsert)
	}

	for _, l := range config.Storage.Local {
		if blank(l.Path) {
			errs = errors.Join(errs, ErrMissingLocalPath)
		}
	}

	for _, s := range config.Storage.S3 {
		if blank(s.Bucket) {
			errs = errors.Join(errs, ErrMissingS3Bucket)
		}
	}

	for _, sf := range config.Storage.Sftp {
		if blank(sf.Path, sf.SshHost, sf.SshUser, sf.SshKey) {
			errs = errors.Join(errs, ErrMissingSftpConfig)
		}
	}

	for _, g := range config.Storage.GDrive {
		if blank(g.Email, g.PrivateKey) {
			errs = errors.Join(errs, ErrMissingGDriveConfig)
		}
	}

	for _, d := range config.Storage.Dropbox {
		if blank(d.RefreshToken, d.ClientId, d.ClientSecret) {
			errs = errors.Join(errs, ErrMissingDropboxConfig)
		}
	}

	for _, s := range config.Notifier.Slack {
		if blank(s.IncomingWebhook) {
			errs = errors.Join(errs, ErrMissingSlackWebhook)
		}
	}

	return errs
}

// ResolveBackupDir falls back to BACKUP_DIR and then to var/backups under the working directory.
func (config *Config) ResolveBackupDir(lookup env.LookupFunc) {
	if strings.TrimSpace(config.Backup.Dir) != "" {
		return
	}

	values, err := env.NewEnvResolver(env.WithBackupDir(), env.WithLookup(lookup)).Resolve()
	if err == nil && values.BackupDir != "" {
		config.Backup.Dir = values.BackupDir
		return
	}

	config.Backup.Dir = fileutil.DefaultBackupDir()
}

// ResolveEnv reads DATABASE_DSN when the config has no dsn, then resolves the storage variables.
func (config *Config) ResolveEnv(lookup env.LookupFunc) error {
	var errs error

	if strings.TrimSpace(config.Database.DSN) == "" {
		values, err := env.NewEnvResolver(env.WithDatabaseDSN(), env.WithLookup(lookup)).Resolve()
		if err != nil {
			errs = errors.Join(errs, err)
		} else {
			config.Database.DSN = values.DatabaseDSN
		}
	}

	return errors.Join(errs, config.ResolveStorageEnv(lookup))
}

// ResolveStorageEnv applies the AWS_* variables to every s3 storage without static credentials.
func (config *Config) ResolveStorageEnv(lookup env.LookupFunc) error {
	var aws *env.AWSCredentials

	for _, s := range config.Storage.S3 {
		if s.HasCredentials() {
			continue
		}

		if aws == nil {
			values, err := env.NewEnvResolver(env.WithAWS(), env.WithLookup(lookup)).Resolve()
			if err != nil {
				return err
			}

			aws = &values.AWSCredentials
		}

		s.ApplyCredentials(*aws)
	}

	return nil
}

func (config *Config) Storages() []storage.Storage {
	storages := make([]storage.Storage, 0)

	for _, s := range config.Storage.Local {
		storages = append(storages, s)
	}

	for _, s := range config.Storage.S3 {
		storages = append(storages, s)
	}

	for _, s := range config.Storage.Sftp {
		storages = append(storages, s)
	}

	for _, s := range config.Storage.GDrive {
		storages = append(storages, s)
	}

	for _, s := range config.Storage.Dropbox {
		storages = append(storages, s)
	}

	return storages
}
