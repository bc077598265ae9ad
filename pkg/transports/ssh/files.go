package ssh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/engine"
)

// MkdirAll creates a remote directory and any missing parents.
func (c *Client) MkdirAll(remotePath string) error {
	if err := c.sftp.MkdirAll(remotePath); err != nil {
		return engine.NewDownloadError("could not create remote directory "+remotePath, err)
	}
	return nil
}

// Stat examines a remote path.
func (c *Client) Stat(remotePath string) (os.FileInfo, error) {
	info, err := c.sftp.Stat(remotePath)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// UploadFile copies a local file to the remote host, creating parent
// directories and applying mode.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	local, err := os.Open(localPath)
	if err != nil {
		return engine.NewValidationError("could not open "+localPath, err)
	}
	defer local.Close()

	if err := c.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}

	remote, err := c.sftp.Create(remotePath)
	if err != nil {
		return engine.NewDownloadError("could not create remote file "+remotePath, err)
	}
	defer remote.Close()

	written, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return engine.NewDownloadError("could not upload "+localPath, err)
	}

	if err := c.sftp.Chmod(remotePath, mode); err != nil {
		c.log.Warnf("could not set mode on %s: %v", remotePath, err)
	}

	c.log.Debugf("uploaded %s to %s (%d bytes)", localPath, remotePath, written)
	return nil
}

// UploadDir mirrors a local directory tree onto the remote host. File
// modes are preserved.
func (c *Client) UploadDir(ctx context.Context, localPath, remotePath string) error {
	return filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return engine.NewValidationError("could not walk "+localPath, err)
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return engine.NewValidationError("could not resolve "+p, err)
		}
		target := path.Join(remotePath, filepath.ToSlash(rel))

		if d.IsDir() {
			return c.MkdirAll(target)
		}

		info, err := d.Info()
		if err != nil {
			return engine.NewValidationError("could not stat "+p, err)
		}
		return c.UploadFile(ctx, p, target, info.Mode().Perm())
	})
}

// Checksum reads a remote file over SFTP and returns its SHA-256 hex
// digest. Hashing happens locally, so the remote host needs no checksum
// tooling.
func (c *Client) Checksum(ctx context.Context, remotePath string) (string, error) {
	remote, err := c.sftp.Open(remotePath)
	if err != nil {
		return "", engine.NewDownloadError("could not open remote file "+remotePath, err)
	}
	defer remote.Close()

	hash := sha256.New()
	if _, err := copyWithContext(ctx, hash, remote); err != nil {
		return "", engine.NewDownloadError("could not read remote file "+remotePath, err)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
