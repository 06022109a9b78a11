// Package archive unpacks downloaded source archives into temp directories.
// Every extractor rejects path traversal, skips links and enforces size
// limits.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxFileSize  = 100 * 1024 * 1024  // 100 MB per file
	maxTotalSize = 1024 * 1024 * 1024 // 1 GB total extracted
	maxFileCount = 50000              // maximum number of files in archive
)

// Extract unpacks data, choosing the format from name's extension
// (.zip, .whl, .tar.gz, .tgz).
func Extract(data []byte, name, prefix string) (dir string, cleanup func(), err error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".whl"):
		return ExtractZip(data, prefix)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ExtractTarGz(bytes.NewReader(data), prefix)
	default:
		return "", nil, fmt.Errorf("unsupported archive format: %s", name)
	}
}

// dest is an extraction target that tracks limits.
type dest struct {
	root    string
	files   int
	written int64
}

func newDest(prefix string) (*dest, error) {
	tmpDir, err := os.MkdirTemp("", "apidelta-"+sanitizePrefix(prefix)+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	root, err := filepath.Abs(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	return &dest{root: root}, nil
}

func (d *dest) cleanup() { os.RemoveAll(d.root) }

// resolve maps an archive entry name to a path inside root.
func (d *dest) resolve(name string) (string, error) {
	target, err := filepath.Abs(filepath.Join(d.root, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", name, err)
	}
	if !strings.HasPrefix(target, d.root+string(os.PathSeparator)) && target != d.root {
		return "", fmt.Errorf("archive entry attempts path traversal: %s", name)
	}
	return target, nil
}

func (d *dest) mkdir(name string) error {
	target, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", name, err)
	}
	return nil
}

// write copies one regular file, enforcing the per-file, total and count
// limits.
func (d *dest) write(name string, r io.Reader) error {
	d.files++
	if d.files > maxFileCount {
		return fmt.Errorf("archive contains more than %d files", maxFileCount)
	}

	target, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", name, err)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", name, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	if n > maxFileSize {
		return fmt.Errorf("file %s exceeds maximum size of %d bytes", name, maxFileSize)
	}
	d.written += n
	if d.written > maxTotalSize {
		return fmt.Errorf("total extracted size exceeds maximum of %d bytes", maxTotalSize)
	}
	return nil
}

// ExtractZip unpacks a zip archive (Go module zips, Python wheels) to a temp
// directory. Returns the directory and a cleanup function that removes it.
func ExtractZip(data []byte, prefix string) (dir string, cleanup func(), err error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read zip archive: %w", err)
	}
	if len(reader.File) > maxFileCount {
		return "", nil, fmt.Errorf("zip archive contains %d files, exceeds maximum of %d", len(reader.File), maxFileCount)
	}

	d, err := newDest(prefix)
	if err != nil {
		return "", nil, err
	}

	for _, file := range reader.File {
		if file.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if file.FileInfo().IsDir() {
			if err := d.mkdir(file.Name); err != nil {
				d.cleanup()
				return "", nil, err
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			d.cleanup()
			return "", nil, fmt.Errorf("failed to open zip entry %s: %w", file.Name, err)
		}
		err = d.write(file.Name, rc)
		rc.Close()
		if err != nil {
			d.cleanup()
			return "", nil, err
		}
	}

	return d.root, d.cleanup, nil
}

// sanitizePrefix keeps temp directory names readable for module paths and
// versions like "github.com/x/y".
func sanitizePrefix(prefix string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '*':
			return '_'
		}
		return r
	}, prefix)
}
