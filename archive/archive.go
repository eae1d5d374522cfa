// Package archive copies finished experiment directories to durable
// storage.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/weiihann/labrun/internal/fsutil"
)

// Object is a local file about to be archived.
type Object struct {
	Path   string
	Size   int64
	SHA256 string
}

// Target is where archived files end up. Keys are slash separated.
type Target interface {
	// Has reports whether key already holds obj's content.
	Has(ctx context.Context, key string, obj Object) (bool, error)
	Put(ctx context.Context, key string, obj Object) error
	String() string
}

// Stats counts what Archive did.
type Stats struct {
	Copied  int
	Skipped int
	Bytes   int64
}

// Archive copies every regular file below roots to target under prefix.
// Each root keeps its base name. Files already present with the same
// content are skipped, so an interrupted archive resumes where it stopped.
func Archive(ctx context.Context, target Target, prefix string, roots ...string) (Stats, error) {
	var stats Stats

	for _, root := range roots {
		files, err := listFiles(root)
		if err != nil {
			return stats, err
		}

		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			key := path.Join(prefix, filepath.Base(root), filepath.ToSlash(f.rel))

			sum, err := fileSHA256(f.path)
			if err != nil {
				return stats, err
			}

			obj := Object{Path: f.path, Size: f.size, SHA256: sum}

			ok, err := target.Has(ctx, key, obj)
			if err != nil {
				return stats, fmt.Errorf("check %s: %w", key, err)
			}

			if ok {
				stats.Skipped++

				continue
			}

			if err := target.Put(ctx, key, obj); err != nil {
				return stats, fmt.Errorf("archive %s: %w", f.path, err)
			}

			stats.Copied++
			stats.Bytes += f.size
		}
	}

	return stats, nil
}

type file struct {
	path string
	rel  string
	size int64
}

func listFiles(root string) ([]file, error) {
	var files []file

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		files = append(files, file{path: p, rel: rel, size: info.Size()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	return files, nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Dir archives into a local directory.
type Dir struct {
	Root string
}

func (d Dir) String() string { return d.Root }

func (d Dir) path(key string) string {
	return filepath.Join(d.Root, filepath.FromSlash(key))
}

// Has implements Target.
func (d Dir) Has(_ context.Context, key string, obj Object) (bool, error) {
	info, err := os.Stat(d.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !info.Mode().IsRegular() || info.Size() != obj.Size {
		return false, nil
	}

	sum, err := fileSHA256(d.path(key))
	if err != nil {
		return false, err
	}

	return sum == obj.SHA256, nil
}

// Put implements Target. The copy appears atomically.
func (d Dir) Put(_ context.Context, key string, obj Object) error {
	data, err := os.ReadFile(obj.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", obj.Path, err)
	}

	return fsutil.WriteFileAtomic(d.path(key), data, 0o644)
}
