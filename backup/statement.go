package backup

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	commentPrefix   = "--"
	StructureMarker = "-- BEGIN STRUCTURE"
	DataMarker      = "-- BEGIN DATA"
	ViewMarker      = "-- BEGIN VIEW"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// StatementReader splits a dump into statements, one per line.
// Comment lines (including the structural markers) and blank lines are skipped.
// A statement spanning several lines is not supported.
type StatementReader struct {
	scanner *bufio.Scanner
	peeked  *string
	started bool
}

func NewStatementReader(reader io.Reader, bufferSize int) *StatementReader {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), bufferSize)

	return &StatementReader{scanner: scanner}
}

// FirstLine returns the trimmed first line of the dump without consuming it.
func (r *StatementReader) FirstLine() (string, bool) {
	if r.peeked != nil {
		return *r.peeked, true
	}

	if r.started {
		return "", false
	}

	r.started = true

	if !r.scanner.Scan() {
		return "", false
	}

	line := strings.TrimSpace(r.scanner.Text())
	r.peeked = &line

	return line, true
}

// Next returns the next executable statement.
func (r *StatementReader) Next() (string, bool) {
	for {
		line, ok := r.nextLine()
		if !ok {
			return "", false
		}

		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		return line, true
	}
}

func (r *StatementReader) nextLine() (string, bool) {
	r.started = true

	if r.peeked != nil {
		line := *r.peeked
		r.peeked = nil
		return line, true
	}

	if !r.scanner.Scan() {
		return "", false
	}

	return strings.TrimSpace(r.scanner.Text()), true
}

func (r *StatementReader) Err() error {
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("fail to read dump, error: %v", err)
	}

	return nil
}

// SplitStatements is the in-memory form of StatementReader.
func SplitStatements(content string) []string {
	reader := NewStatementReader(strings.NewReader(content), max(len(content)+1, bufio.MaxScanTokenSize))

	statements := make([]string, 0)
	for {
		statement, ok := reader.Next()
		if !ok {
			break
		}

		statements = append(statements, statement)
	}

	return statements
}

type decompressReader struct {
	io.Reader
	close func() error
}

func (d *decompressReader) Close() error {
	return d.close()
}

// Detect gzip or zstd content from its magic bytes, whatever the file extension is.
func decompress(reader io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(reader)

	magic, err := buffered.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("fail to read dump header, error: %v", err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gzipReader, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("fail to create a gzip reader, error: %v", err)
		}

		return gzipReader, nil
	case bytes.HasPrefix(magic, zstdMagic):
		zstdReader, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("fail to create a zstd reader, error: %v", err)
		}

		return &decompressReader{Reader: zstdReader, close: func() error {
			zstdReader.Close()
			return nil
		}}, nil
	default:
		return &decompressReader{Reader: buffered, close: func() error { return nil }}, nil
	}
}
