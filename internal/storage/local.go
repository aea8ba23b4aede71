package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LocalSource reads input files below Root.
type LocalSource struct {
	Root string
}

// List returns the slash-separated keys of regular files exactly depth
// directory levels below Root/dir. A missing dir lists nothing.
func (s *LocalSource) List(ctx context.Context, dir string, depth int) ([]string, error) {
	base := filepath.Join(s.Root, filepath.FromSlash(dir))
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == base {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		levels := strings.Count(filepath.ToSlash(rel), "/") + 1
		if d.IsDir() {
			if rel != "." && levels >= depth {
				return fs.SkipDir
			}
			return nil
		}
		if levels == depth && d.Type().IsRegular() {
			keys = append(keys, dir+"/"+filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", base, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Root, filepath.FromSlash(key)))
}

// LocalPublisher publishes staged table directories under Root. Each publish
// replaces Root/<table> as a whole: readers see either the previous table or
// the new one.
type LocalPublisher struct {
	Root   string
	Logger *slog.Logger
}

func (p *LocalPublisher) Publish(ctx context.Context, table, stagedDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	target := filepath.Join(p.Root, table)

	// The incoming tree must sit on the target's filesystem for the swap.
	next := filepath.Join(p.Root, fmt.Sprintf(".%s.next-%s", table, uuid.NewString()))
	if err := moveDir(stagedDir, next); err != nil {
		return fmt.Errorf("failed to move staged table %s: %w", table, err)
	}

	if err := replaceDir(target, next); err != nil {
		os.RemoveAll(next)
		return fmt.Errorf("failed to publish table %s: %w", table, err)
	}
	// next now holds the previous table, if there was one.
	if err := os.RemoveAll(next); err != nil {
		p.Logger.Warn("storage: failed to remove previous table", "table", table, "path", next, "error", err)
	}
	p.Logger.Debug("storage: published table", "table", table, "path", target)
	return nil
}

// replaceDir makes next visible at target. Afterwards next holds the
// previous contents of target, or nothing.
func replaceDir(target, next string) error {
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(next, target)
	} else if err != nil {
		return err
	}

	if err := exchangeDirs(next, target); err == nil {
		return nil
	} else if !errors.Is(err, errExchangeUnsupported) {
		return err
	}

	old := next + ".old"
	if err := os.Rename(target, old); err != nil {
		return err
	}
	if err := os.Rename(next, target); err != nil {
		if rerr := os.Rename(old, target); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return os.Rename(old, next)
}

// moveDir renames src to dst, copying when they are on different
// filesystems.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		return copyFile(p, out)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
