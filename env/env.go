package env

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	AWS_REGION            = "AWS_REGION"
	AWS_ACCESS_KEY_ID     = "AWS_ACCESS_KEY_ID"
	AWS_SECRET_ACCESS_KEY = "AWS_SECRET_ACCESS_KEY"
	AWS_SESSION_TOKEN     = "AWS_SESSION_TOKEN"
	DATABASE_DSN          = "DATABASE_DSN"
	BACKUP_DIR            = "BACKUP_DIR"
)

var ErrMissingEnv = errors.New("at least one env is required to resolve")

type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

type LookupFunc func(key string) (string, bool)

type EnvResolver struct {
	aws         bool
	databaseDSN bool
	backupDir   bool
	lookup      LookupFunc
}

type resolverOption func(resolver *EnvResolver)

func NewEnvResolver(opts ...resolverOption) *EnvResolver {
	resolver := &EnvResolver{lookup: os.LookupEnv}

	for _, opt := range opts {
		opt(resolver)
	}

	return resolver
}

func WithAWS() resolverOption {
	return func(resolver *EnvResolver) {
		resolver.aws = true
	}
}

func WithDatabaseDSN() resolverOption {
	return func(resolver *EnvResolver) {
		resolver.databaseDSN = true
	}
}

// BACKUP_DIR is optional, it is only read when present.
func WithBackupDir() resolverOption {
	return func(resolver *EnvResolver) {
		resolver.backupDir = true
	}
}

func WithLookup(lookup LookupFunc) resolverOption {
	return func(resolver *EnvResolver) {
		resolver.lookup = lookup
	}
}

type Values struct {
	AWSCredentials AWSCredentials
	DatabaseDSN    string
	BackupDir      string
}

func (resolver *EnvResolver) get(key string) string {
	value, _ := resolver.lookup(key)
	return strings.TrimSpace(value)
}

func (resolver *EnvResolver) ensureRequiredVars(vars []string) error {
	var errs error

	for _, v := range vars {
		if resolver.get(v) == "" {
			errs = errors.Join(errs, fmt.Errorf("missing required environment variable %s", v))
		}
	}

	return errs
}

func (resolver *EnvResolver) Resolve() (Values, error) {
	if !resolver.aws && !resolver.databaseDSN && !resolver.backupDir {
		return Values{}, ErrMissingEnv
	}

	requiredVars := make([]string, 0)

	if resolver.aws {
		requiredVars = append(requiredVars, AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
	}

	if resolver.databaseDSN {
		requiredVars = append(requiredVars, DATABASE_DSN)
	}

	if err := resolver.ensureRequiredVars(requiredVars); err != nil {
		return Values{}, err
	}

	var values Values

	if resolver.aws {
		values.AWSCredentials = AWSCredentials{
			AccessKeyID:     resolver.get(AWS_ACCESS_KEY_ID),
			SecretAccessKey: resolver.get(AWS_SECRET_ACCESS_KEY),
			SessionToken:    resolver.get(AWS_SESSION_TOKEN),
			Region:          resolver.get(AWS_REGION),
		}
	}

	if resolver.databaseDSN {
		values.DatabaseDSN = resolver.get(DATABASE_DSN)
	}

	if resolver.backupDir {
		values.BackupDir = resolver.get(BACKUP_DIR)
	}

	return values, nil
}
