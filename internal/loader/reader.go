package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxLineSize bounds a single feed line; rows carry whole base64 images.
const maxLineSize = 64 << 20

// OpenFeed opens a feed file, decompressing .gz and .zst transparently.
// The path "-" reads standard input.
func OpenFeed(path string) (io.ReadCloser, error) {
	if path == "-" {
		return Decompress(path, os.Stdin)
	}
	f, err := os.Open(path) //nolint:gosec // path is user input by design
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	rc, err := Decompress(path, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return rc, nil
}

// Decompress wraps r in a decoder chosen by the name's extension. Closing the
// result closes r when it is an io.Closer.
func Decompress(name string, r io.Reader) (io.ReadCloser, error) {
	var closers []func() error
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		closers = append(closers, c.Close)
	}

	var out io.Reader
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		closers = append([]func() error{zr.Close}, closers...)
		out = zr
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		closers = append([]func() error{func() error { zr.Close(); return nil }}, closers...)
		out = zr
	default:
		out = r
	}
	return &feedReader{Reader: out, closers: closers}, nil
}

type feedReader struct {
	io.Reader
	closers []func() error
}

func (f *feedReader) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// lineReader yields tab-separated records with their 1-based line numbers.
// Quotes have no special meaning.
type lineReader struct {
	scanner *bufio.Scanner
	line    int
}

func newLineReader(r io.Reader) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &lineReader{scanner: s}
}

// next returns the fields of the next non-empty line, or io.EOF.
func (l *lineReader) next() ([]string, error) {
	for l.scanner.Scan() {
		l.line++
		text := strings.TrimSuffix(l.scanner.Text(), "\r")
		if text == "" {
			continue
		}
		return strings.Split(text, "\t"), nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", l.line+1, err)
	}
	return nil, io.EOF
}
