package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// Storage is an offsite mirror for backup files. Save writes the content under name,
// relative to the location the storage is configured with.
type Storage interface {
	Save(ctx context.Context, reader io.Reader, name string) error
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	return r.reader.Read(p)
}

// NewContextReader stops reading once ctx is done, so a plain io.Copy can be cancelled.
func NewContextReader(ctx context.Context, reader io.Reader) io.Reader {
	return &contextReader{ctx: ctx, reader: reader}
}

// RemotePath joins a configured remote directory and a backup name with forward slashes.
func RemotePath(dir, name string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return name
	}

	return path.Join(dir, name)
}

// NewProgressBar renders to stdout, maxBytes -1 shows a spinner when the size is unknown.
func NewProgressBar(maxBytes int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(maxBytes,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(25),
		progressbar.OptionSetDescription("[cyan][reset] "+description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
