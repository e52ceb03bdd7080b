package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Source opens the files named by catalog entries.
type Source interface {
	// Open returns a reader over the decompressed contents of name.
	Open(name string) (io.ReadCloser, error)
	// Path returns a local filesystem path for formats that must be read by path.
	Path(name string) (string, error)
}

// DirSource reads files relative to a directory. Names ending in .zst are
// decompressed transparently.
type DirSource struct {
	Dir string
}

// Path resolves name against the directory.
func (d DirSource) Path(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty file name")
	}
	if filepath.IsAbs(name) || d.Dir == "" {
		return name, nil
	}
	return filepath.Join(d.Dir, name), nil
}

// Open implements Source.
func (d DirSource) Open(name string) (io.ReadCloser, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	if !strings.HasSuffix(name, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", name, err)
	}
	return &zstdFile{Decoder: dec, file: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	file *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}

// baseName strips a trailing compression suffix so the format can be chosen
// by extension.
func baseName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".zst")
}
