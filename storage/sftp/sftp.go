package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/liweiyi88/onebackup/dialer"
	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/storage"

	sftpdialer "github.com/pkg/sftp"
)

const (
	BaseDelay = 5 * time.Second
	MaxDelay  = 1 * time.Minute
)

var ErrNotRetryable = errors.New("error not retryable")

type Result struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Written int64  `json:"written"`
}

type Sftp struct {
	mu          sync.Mutex
	written     int64 // number of bytes that have been written to the remote file
	attempts    int
	baseDelay   time.Duration
	MaxAttempts int    `yaml:"maxattempts"` // by default it is 0, infinite retries
	Path        string `yaml:"path"`        // remote directory
	SshHost     string `yaml:"sshhost"`
	SshUser     string `yaml:"sshuser"`
	SshKey      string `yaml:"sshkey"`
	HostKey     string `yaml:"hostkey"`
	Result      Result `yaml:"-"`
}

func NewSftp(maxAttempts int, path, sshHost, sshUser, sshKey string) *Sftp {
	return &Sftp{
		MaxAttempts: maxAttempts,
		Path:        path,
		SshHost:     sshHost,
		SshUser:     sshUser,
		SshKey:      sshKey,
	}
}

func (sf *Sftp) reset() {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.Result = Result{}
	sf.attempts = 0
	sf.written = 0
}

func (sf *Sftp) attempt() {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.attempts++
}

func (sf *Sftp) delay() time.Duration {
	base := sf.baseDelay
	if base <= 0 {
		base = BaseDelay
	}

	return min(base*(1<<sf.attempts), MaxDelay)
}

func (sf *Sftp) write(ctx context.Context, reader io.Reader, name string, offset int64) error {
	bar := storage.NewProgressBar(fileutil.FileSize(reader), "SFTP file syncing...")

	// Try to resume the file transfer if reader is also a seeker and offset is greater than 0
	if seeker, ok := reader.(io.ReadSeeker); ok && offset > 0 {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to offset %d: %v, %w", offset, err, ErrNotRetryable)
		}

		bar.Add64(offset)
	}

	var opts []dialer.SshOption
	if sf.HostKey != "" {
		opts = append(opts, dialer.WithHostKey(sf.HostKey))
	}

	conn, err := dialer.NewSsh(sf.SshHost, sf.SshKey, sf.SshUser, opts...).CreateSshClient(ctx)
	if err != nil {
		return fmt.Errorf("fail to create ssh connection, error: %v", err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("fail to close ssh connection", slog.Any("error", err))
		}
	}()

	client, err := sftpdialer.NewClient(conn)
	if err != nil {
		return err
	}

	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("fail to close sftp connection", slog.Any("error", err))
		}
	}()

	path := storage.RemotePath(sf.Path, name)

	var file *sftpdialer.File

	if offset > 0 {
		if file, err = client.OpenFile(path, os.O_WRONLY|os.O_APPEND); err != nil {
			return fmt.Errorf("fail to open remote file via SFTP, error: %v", err)
		}
	} else {
		if file, err = client.Create(path); err != nil {
			return fmt.Errorf("fail to create remote file via SFTP, error: %v", err)
		}
	}

	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close sftp file", slog.Any("error", err))
		}
	}()

	n, err := io.Copy(io.MultiWriter(file, bar), storage.NewContextReader(ctx, reader))

	sf.mu.Lock()
	sf.written += n
	sf.mu.Unlock()

	return err
}

func (sf *Sftp) fail(message string) {
	sf.Result.OK = false
	sf.Result.Written = sf.written
	sf.Result.Error = message
}

// Save retries with an exponential backoff and resumes from the bytes already written
// when the reader can seek.
func (sf *Sftp) Save(ctx context.Context, reader io.Reader, name string) error {
	sf.reset()

	for {
		err := sf.write(ctx, reader, name, sf.written)

		if err == nil {
			sf.Result.OK = true
			sf.Result.Written = sf.written
			sf.Result.Error = ""
			return nil
		}

		if errors.Is(err, ErrNotRetryable) || ctx.Err() != nil {
			sf.fail(err.Error())
			return err
		}

		if sf.MaxAttempts > 0 && sf.attempts >= sf.MaxAttempts {
			sf.fail("reached max retries")
			return fmt.Errorf("failed after %d attempts: %v", sf.MaxAttempts, err)
		}

		delay := sf.delay()
		slog.Info(fmt.Sprintf("retry after %0.f seconds", delay.Seconds()), slog.Any("error", err))

		select {
		case <-ctx.Done():
			sf.fail(ctx.Err().Error())
			return ctx.Err()
		case <-time.After(delay):
		}

		sf.attempt()
		slog.Info("retrying upload", slog.Int("attempt", sf.attempts))
	}
}
