package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func createTestFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestSum(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	first := NewChecksum(createTestFile(t, dir, "backup__20211102171552.sql", "test content"))
	second := NewChecksum(createTestFile(t, dir, "backup__20211103171552.sql", "test content"))

	sum, err := first.Sum()
	assert.Nil(err)
	assert.Len(sum, 64)

	other, err := second.Sum()
	assert.Nil(err)
	assert.Equal(sum, other)

	_, err = NewChecksum(filepath.Join(dir, "missing.sql")).Sum()
	assert.NotNil(err)
}

func TestSaveState(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	first := NewChecksum(createTestFile(t, dir, "backup__20211102171552.sql", "first"))
	second := NewChecksum(createTestFile(t, dir, "backup__20211103171552.sql", "second"))

	transferred, err := first.IsFileTransferred()
	assert.Nil(err)
	assert.False(transferred)

	assert.Nil(first.SaveState())
	assert.Nil(second.SaveState())

	transferred, err = first.IsFileTransferred()
	assert.Nil(err)
	assert.True(transferred)

	transferred, err = second.IsFileTransferred()
	assert.Nil(err)
	assert.True(transferred)

	firstSum, err := first.Sum()
	assert.Nil(err)
	secondSum, err := second.Sum()
	assert.Nil(err)

	content, err := os.ReadFile(filepath.Join(dir, ChecksumStateFile))
	assert.Nil(err)
	assert.Equal("backup__20211102171552.sql "+firstSum+"\nbackup__20211103171552.sql "+secondSum+"\n", string(content))

	third := NewChecksum(createTestFile(t, dir, "backup__20211104171552.sql", "third"))
	transferred, err = third.IsFileTransferred()
	assert.Nil(err)
	assert.False(transferred)
}

func TestFileSize(t *testing.T) {
	assert := assert.New(t)

	path := createTestFile(t, t.TempDir(), "backup__20211102171552.sql", "12345")
	file, err := os.Open(path)
	assert.Nil(err)
	defer file.Close()

	assert.Equal(int64(5), FileSize(file))
	assert.Equal(int64(-1), FileSize(nil))
	assert.Equal(int64(-1), FileSize("not a file"))
}

func TestDefaultBackupDir(t *testing.T) {
	wd, err := os.Getwd()
	assert.Nil(t, err)
	assert.Equal(t, wd, WorkDir())
	assert.Equal(t, filepath.Join(wd, "var", "backups"), DefaultBackupDir())
}

func TestSameContentDifferentName(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	first := NewChecksum(createTestFile(t, dir, "backup__20211102171552.sql", "same content"))
	second := NewChecksum(createTestFile(t, dir, "backup__20211103171552.sql", "same content"))

	assert.Nil(first.SaveState())

	transferred, err := first.IsFileTransferred()
	assert.Nil(err)
	assert.True(transferred)

	transferred, err = second.IsFileTransferred()
	assert.Nil(err)
	assert.False(transferred)
}

func TestChangedContentSameName(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	path := createTestFile(t, dir, "backup__20211102171552.sql", "first")
	assert.Nil(NewChecksum(path).SaveState())

	createTestFile(t, dir, "backup__20211102171552.sql", "rewritten")

	transferred, err := NewChecksum(path).IsFileTransferred()
	assert.Nil(err)
	assert.False(transferred)
}
