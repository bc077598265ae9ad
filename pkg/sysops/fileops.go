package sysops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/engine"
)

// EnsureDir creates path and any missing parents.
func EnsureDir(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return engine.NewMutationError("could not create directory "+path, err)
	}
	return nil
}

// CopyFile copies src to dst, preserving the source mode and creating
// dst's parent directories. An existing dst is overwritten.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return engine.NewMutationError("could not read "+src, err).
			WithCode(engine.ErrCodeCopyFailed)
	}
	if info.IsDir() {
		return engine.NewMutationError(src+" is a directory, expected a file", nil).
			WithCode(engine.ErrCodeCopyFailed)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return engine.NewMutationError("could not create parent of "+dst, err).
			WithCode(engine.ErrCodeCopyFailed)
	}

	in, err := os.Open(src)
	if err != nil {
		return engine.NewMutationError("could not open "+src, err).
			WithCode(engine.ErrCodeCopyFailed)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return engine.NewMutationError("could not create "+dst, err).
			WithCode(engine.ErrCodeCopyFailed)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return engine.NewMutationError(
			fmt.Sprintf("copy %s -> %s failed", src, dst), err).
			WithCode(engine.ErrCodeCopyFailed)
	}
	if err := out.Close(); err != nil {
		return engine.NewMutationError("could not finish writing "+dst, err).
			WithCode(engine.ErrCodeCopyFailed)
	}
	return nil
}

// CopyDir copies the tree rooted at src into dst, preserving directory and
// file modes. Irregular files (sockets, devices, symlinks) are skipped.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return engine.NewMutationError("could not walk "+path, err).
				WithCode(engine.ErrCodeCopyFailed)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return engine.NewMutationError("could not resolve "+path, err).
				WithCode(engine.ErrCodeCopyFailed)
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return engine.NewMutationError("could not stat "+path, err).
					WithCode(engine.ErrCodeCopyFailed)
			}
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return engine.NewMutationError("could not create "+target, err).
					WithCode(engine.ErrCodeCopyFailed)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFile(path, target)
	})
}

// FileSHA256 returns the hex SHA-256 digest of the file at path. Callers
// classify failures for their own context.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("could not hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
