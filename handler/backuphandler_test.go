package handler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liweiyi88/onebackup/backup"
	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/jobresult"
	"github.com/liweiyi88/onebackup/storage"
	"github.com/liweiyi88/onebackup/storage/local"
	"github.com/stretchr/testify/assert"
)

type fakeConnection struct {
	mu      sync.Mutex
	queries []string
}

func (c *fakeConnection) IsAutoCommit() bool { return false }

func (c *fakeConnection) SetAutoCommit(ctx context.Context, autoCommit bool) error { return nil }

func (c *fakeConnection) ExecuteQuery(ctx context.Context, query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries = append(c.queries, query)
	return nil
}

func (c *fakeConnection) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConnection) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeDumper struct {
	err error
}

func (d *fakeDumper) Dump(ctx context.Context, conn backup.Connection, config backup.CreateConfig) error {
	if d.err != nil {
		return d.err
	}

	return os.WriteFile(config.Backup().Filepath(), []byte(backup.Header+"\nSELECT 1;\n"), 0644)
}

type fakeStorage struct {
	mu    sync.Mutex
	err   error
	saved map[string]string
}

func (s *fakeStorage) Save(ctx context.Context, reader io.Reader, name string) error {
	content, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	if s.err != nil {
		return s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved == nil {
		s.saved = make(map[string]string)
	}

	s.saved[name] = string(content)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	err     error
	results []*jobresult.JobResult
}

func (n *fakeNotifier) Notify(ctx context.Context, results []*jobresult.JobResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.results = append(n.results, results...)
	return n.err
}

func newTestHandler(t *testing.T, dumper *fakeDumper, opts ...Option) (*BackupHandler, *fakeConnection, string) {
	dir := filepath.Join(t.TempDir(), "backups")
	conn := &fakeConnection{}

	if dumper == nil {
		dumper = &fakeDumper{}
	}

	manager := backup.NewManager(conn, dumper, dir, nil, 5)

	return NewBackupHandler(manager, opts...), conn, dir
}

var createdAt = time.Date(2021, 11, 2, 17, 15, 52, 0, time.UTC)

func TestCreateMirrorsBackup(t *testing.T) {
	assert := assert.New(t)

	offsite := filepath.Join(t.TempDir(), "offsite")
	remote := &fakeStorage{}
	notifier := &fakeNotifier{}

	h, _, dir := newTestHandler(t, nil,
		WithStorages([]storage.Storage{&local.Local{Path: offsite}, remote}),
		WithNotifiers(notifier),
	)

	config := h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt))
	assert.Nil(h.Create(context.Background(), config))

	name := "backup__20211102171552.sql"
	content, err := os.ReadFile(filepath.Join(offsite, name))
	assert.Nil(err)
	assert.Equal(backup.Header+"\nSELECT 1;\n", string(content))
	assert.Equal(string(content), remote.saved[name])

	transferred, err := fileutil.NewChecksum(filepath.Join(dir, name)).IsFileTransferred()
	assert.Nil(err)
	assert.True(transferred)

	assert.Len(notifier.results, 1)
	assert.Equal("create", notifier.results[0].JobName)
	assert.Equal(name, notifier.results[0].Backup)
	assert.Nil(notifier.results[0].Error)
}

func TestCreateKeepsLocalBackupWhenMirrorFails(t *testing.T) {
	assert := assert.New(t)

	remote := &fakeStorage{err: errors.New("bucket not found")}
	notifier := &fakeNotifier{}

	h, _, dir := newTestHandler(t, nil, WithStorages([]storage.Storage{remote}), WithNotifiers(notifier))

	config := h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt))
	err := h.Create(context.Background(), config)
	assert.NotNil(err)
	assert.Contains(err.Error(), "bucket not found")

	path := filepath.Join(dir, "backup__20211102171552.sql")
	assert.FileExists(path)

	transferred, err := fileutil.NewChecksum(path).IsFileTransferred()
	assert.Nil(err)
	assert.False(transferred)

	assert.Len(notifier.results, 1)
	assert.NotNil(notifier.results[0].Error)
}

func TestCreateFailure(t *testing.T) {
	assert := assert.New(t)

	remote := &fakeStorage{}
	notifier := &fakeNotifier{err: errors.New("slack is down")}

	h, _, _ := newTestHandler(t, &fakeDumper{err: errors.New("Query wrong.")}, WithStorages([]storage.Storage{remote}), WithNotifiers(notifier))

	err := h.Create(context.Background(), h.manager.CreateCreateConfig())
	assert.ErrorIs(err, backup.ErrDumpFailed)
	assert.Len(remote.saved, 0)

	assert.Len(notifier.results, 1)
	assert.ErrorIs(notifier.results[0].Error, backup.ErrDumpFailed)
}

func TestRestore(t *testing.T) {
	assert := assert.New(t)

	notifier := &fakeNotifier{}
	h, conn, _ := newTestHandler(t, nil, WithNotifiers(notifier))

	assert.Nil(h.Create(context.Background(), h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt))))

	config, err := h.manager.CreateRestoreConfig()
	assert.Nil(err)

	assert.Nil(h.Restore(context.Background(), config))
	assert.Equal([]string{"SELECT 1;"}, conn.queries)

	assert.Len(notifier.results, 2)
	assert.Equal("restore", notifier.results[1].JobName)
	assert.Equal("backup__20211102171552.sql", notifier.results[1].Backup)
}

func TestRestoreMissingDump(t *testing.T) {
	notifier := &fakeNotifier{}
	h, _, dir := newTestHandler(t, nil, WithNotifiers(notifier))

	config := backup.NewRestoreConfig(backup.CreateNewAtPath(dir))
	err := h.Restore(context.Background(), config)

	assert.ErrorIs(t, err, backup.ErrDumpMissing)
	assert.Len(t, notifier.results, 1)
	assert.ErrorIs(t, notifier.results[0].Error, backup.ErrDumpMissing)
}

func TestMirror(t *testing.T) {
	assert := assert.New(t)

	h, _, dir := newTestHandler(t, nil)

	for i := range 3 {
		config := h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt.Add(time.Duration(i) * time.Hour)))
		assert.Nil(h.Create(context.Background(), config))
	}

	assert.Nil(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a backup"), 0644))

	remote := &fakeStorage{}
	notifier := &fakeNotifier{}
	h.storages = []storage.Storage{remote}
	h.notifiers = []Notifier{notifier}

	assert.Nil(h.Mirror(context.Background()))
	assert.Len(remote.saved, 3)
	assert.Len(notifier.results, 3)

	for _, result := range notifier.results {
		assert.Equal("mirror", result.JobName)
		assert.True(strings.HasPrefix(result.Backup, "backup__"))
	}

	// already mirrored backups are skipped
	other := &fakeStorage{}
	h.storages = []storage.Storage{other}

	assert.Nil(h.Mirror(context.Background()))
	assert.Len(other.saved, 0)
}

func TestMirrorWithoutStorages(t *testing.T) {
	notifier := &fakeNotifier{}
	h, _, _ := newTestHandler(t, nil, WithNotifiers(notifier))

	assert.Nil(t, h.Mirror(context.Background()))
	assert.Len(t, notifier.results, 0)
}

func TestMirrorJoinsErrors(t *testing.T) {
	assert := assert.New(t)

	h, _, _ := newTestHandler(t, nil)

	assert.Nil(h.Create(context.Background(), h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt))))
	assert.Nil(h.Create(context.Background(), h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt.Add(time.Hour)))))

	h.storages = []storage.Storage{&fakeStorage{err: errors.New("connection reset")}, &fakeStorage{}}

	err := h.Mirror(context.Background())
	assert.NotNil(err)
	assert.Equal(2, strings.Count(err.Error(), "connection reset"))
}

func TestMirrorBackupsWithSameContent(t *testing.T) {
	assert := assert.New(t)

	remote := &fakeStorage{}
	h, _, _ := newTestHandler(t, nil, WithStorages([]storage.Storage{remote}))

	assert.Nil(h.Create(context.Background(), h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt))))
	assert.Nil(h.Create(context.Background(), h.manager.CreateCreateConfig(backup.WithCreatedAt(createdAt.Add(time.Hour)))))

	assert.Len(remote.saved, 2)
	assert.Equal(remote.saved["backup__20211102171552.sql"], remote.saved["backup__20211102181552.sql"])

	notifier := &fakeNotifier{}
	h.notifiers = []Notifier{notifier}
	other := &fakeStorage{}
	h.storages = []storage.Storage{other}

	assert.Nil(h.Mirror(context.Background()))
	assert.Len(other.saved, 0)
	assert.Len(notifier.results, 2)
}
