package fileutil

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ChecksumStateFile lives next to the backups and lists the mirrored files, one "<name> <sha256>" per line.
const ChecksumStateFile = "mirrored.onebackup"

type Checksum struct {
	mu       sync.Mutex
	filePath string
	checksum string
}

func NewChecksum(filePath string) *Checksum {
	return &Checksum{filePath: filePath}
}

func (c *Checksum) computeChecksum() (string, error) {
	hasher := sha256.New()

	file, err := os.Open(c.filePath)
	if err != nil {
		return "", fmt.Errorf("fail to open file %s to compute checksum, error: %v", c.filePath, err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("fail to close file", slog.Any("filename", file.Name()), slog.Any("error", closeErr))
		}
	}()

	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("fail to copy content to hasher, error: %v", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (c *Checksum) stateFilePath() string {
	return filepath.Join(filepath.Dir(c.filePath), ChecksumStateFile)
}

// stateLine keys the checksum by file name, files with the same content are tracked separately.
func (c *Checksum) stateLine() (string, error) {
	checksum, err := c.Sum()
	if err != nil {
		return "", err
	}

	return filepath.Base(c.filePath) + " " + checksum, nil
}

// Sum is computed once and cached, backups are never modified after creation.
func (c *Checksum) Sum() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checksum != "" {
		return c.checksum, nil
	}

	checksum, err := c.computeChecksum()
	if err != nil {
		return "", err
	}

	c.checksum = checksum

	return checksum, nil
}

func (c *Checksum) IsFileTransferred() (bool, error) {
	line, err := c.stateLine()
	if err != nil {
		return false, err
	}

	stateFile, err := os.Open(c.stateFilePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("fail to open checksum state file, error: %v", err)
	}

	defer func() {
		if closeErr := stateFile.Close(); closeErr != nil {
			slog.Error("fail to close the checksum state file", slog.Any("error", closeErr))
		}
	}()

	scanner := bufio.NewScanner(stateFile)

	for scanner.Scan() {
		if line == strings.TrimSpace(scanner.Text()) {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("fail to scan checksum state file, error: %v", err)
	}

	return false, nil
}

func (c *Checksum) SaveState() (err error) {
	line, err := c.stateLine()
	if err != nil {
		return fmt.Errorf("fail to get checksum while saving, error: %v", err)
	}

	file, err := os.OpenFile(c.stateFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("fail to open state file while saving, error: %v", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("fail to close state file while saving, error: %v", closeErr)
		}
	}()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("fail to write checksum while saving, error: %v", err)
	}

	return nil
}
