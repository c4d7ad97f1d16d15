package backup

import "slices"

// DefaultBufferSize is the longest statement line a restore accepts.
const DefaultBufferSize = 100 * 1024 * 1024

// CreateConfig describes one backup run. The With methods return modified copies.
type CreateConfig struct {
	backup         Backup
	tablesToIgnore []string
}

func NewCreateConfig(backup Backup) CreateConfig {
	return CreateConfig{backup: backup}
}

func (c CreateConfig) Backup() Backup {
	return c.backup
}

func (c CreateConfig) TablesToIgnore() []string {
	return slices.Clone(c.tablesToIgnore)
}

func (c CreateConfig) IgnoresTable(table string) bool {
	return slices.Contains(c.tablesToIgnore, table)
}

func (c CreateConfig) WithBackup(backup Backup) CreateConfig {
	c.backup = backup
	return c
}

func (c CreateConfig) WithTablesToIgnore(tables []string) CreateConfig {
	c.tablesToIgnore = slices.Clone(tables)
	return c
}

// RestoreConfig describes one restore run. The With methods return modified copies.
type RestoreConfig struct {
	backup            Backup
	ignoreOriginCheck bool
	bufferSize        int
}

func NewRestoreConfig(backup Backup) RestoreConfig {
	return RestoreConfig{
		backup:     backup,
		bufferSize: DefaultBufferSize,
	}
}

func (c RestoreConfig) Backup() Backup {
	return c.backup
}

func (c RestoreConfig) IgnoreOriginCheck() bool {
	return c.ignoreOriginCheck
}

func (c RestoreConfig) BufferSize() int {
	if c.bufferSize <= 0 {
		return DefaultBufferSize
	}

	return c.bufferSize
}

func (c RestoreConfig) WithBackup(backup Backup) RestoreConfig {
	c.backup = backup
	return c
}

func (c RestoreConfig) WithIgnoreOriginCheck(ignore bool) RestoreConfig {
	c.ignoreOriginCheck = ignore
	return c
}

func (c RestoreConfig) WithBufferSize(size int) RestoreConfig {
	c.bufferSize = size
	return c
}
