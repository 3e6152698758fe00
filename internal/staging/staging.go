// Package staging owns the scratch space a scan works in. A Dir is acquired per scan
// and removed by Close whatever the scan's outcome.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mholt/archives"
)

// Dir is one scan's scratch directory.
type Dir struct {
	path string
}

// New creates root/name. An empty name gets a random one.
func New(root, name string) (*Dir, error) {
	if name == "" {
		name = uuid.NewString()
	}
	p := filepath.Join(root, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Dir{path: p}, nil
}

// Path is the directory itself.
func (d *Dir) Path() string { return d.path }

// Join builds a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Mkdir creates a subdirectory and returns its path.
func (d *Dir) Mkdir(name string) (string, error) {
	p := d.Join(name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

// Close removes the directory and everything under it. Safe to call twice.
func (d *Dir) Close() error {
	if d == nil || d.path == "" {
		return nil
	}
	err := os.RemoveAll(d.path)
	d.path = ""
	return err
}

var ErrUnsupportedArchive = errors.New("unsupported archive format")

// Unpack extracts the archive at src into dest. Entries that would land outside dest
// and links are skipped.
func Unpack(ctx context.Context, src, dest string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	format, stream, err := archives.Identify(ctx, filepath.Base(src), f)
	if err != nil {
		return 0, fmt.Errorf("identify %s: %w", filepath.Base(src), err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(src))
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}

	n := 0
	err = ex.Extract(ctx, stream, func(_ context.Context, file archives.FileInfo) error {
		target := filepath.Join(root, file.NameInArchive)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil
		}
		if file.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if file.LinkTarget != "" || !file.Mode().IsRegular() {
			return nil
		}
		in, err := file.Open()
		if err != nil {
			return err
		}
		defer in.Close()
		if err := writeFile(target, in, file.Mode().Perm()); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", filepath.Base(src), err)
	}
	return n, nil
}

func writeFile(path string, in io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: making directory for file: %w", path, err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return fmt.Errorf("%s: creating new file: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%s: writing file: %w", path, err)
	}
	return nil
}
