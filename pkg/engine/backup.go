package engine

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// SnapshotManager copies mutable state into timestamped directories before
// destructive operations. Snapshots are purely additive: nothing in the run
// depends on a snapshot succeeding.
type SnapshotManager struct {
	log  *telemetry.Logger
	root string

	// now stamps snapshot directories. Injectable for tests.
	now func() time.Time
}

// NewSnapshotManager creates a snapshot manager writing under root
// (typically <data-dir>/backups).
func NewSnapshotManager(log *telemetry.Logger, root string) *SnapshotManager {
	return &SnapshotManager{
		log:  log.NewComponentLogger("backup"),
		root: root,
		now:  time.Now,
	}
}

// Snapshot copies each path into a fresh timestamped directory. Absent
// paths are skipped with an info line, copy failures are logged as
// warnings, and neither stops the run. Returns nil when paths is empty or
// the snapshot directory cannot be created.
func (m *SnapshotManager) Snapshot(ctx context.Context, paths []string) *BackupManifest {
	if len(paths) == 0 {
		m.log.Info("Nothing to back up")
		return nil
	}

	createdAt := m.now()
	root := filepath.Join(m.root, createdAt.Format("20060102-150405"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		m.log.Warnf("Could not create backup directory %s: %v (continuing without backup)", root, err)
		return nil
	}

	manifest := &BackupManifest{
		Root:      root,
		CreatedAt: createdAt,
	}

	for _, src := range paths {
		select {
		case <-ctx.Done():
			m.log.Warnf("Backup interrupted: %v", ctx.Err())
			m.writeManifest(manifest)
			return manifest
		default:
		}

		entry := BackupEntry{Source: src}

		info, err := os.Stat(src)
		if err != nil {
			entry.Status = BackupSkipped
			entry.Detail = "not present"
			m.log.Infof("Backup: %s not present, skipping", src)
			manifest.Entries = append(manifest.Entries, entry)
			continue
		}

		dest := filepath.Join(root, filepath.Base(src))
		if info.IsDir() {
			err = copyTree(src, dest)
		} else {
			err = copyFile(src, dest, info.Mode())
		}
		if err != nil {
			entry.Status = BackupFailed
			entry.Detail = err.Error()
			m.log.Warnf("Backup of %s failed: %v (continuing)", src, err)
		} else {
			entry.Status = BackupCopied
			entry.Dest = dest
			m.log.Infof("Backed up %s to %s", src, dest)
		}
		manifest.Entries = append(manifest.Entries, entry)
	}

	m.writeManifest(manifest)
	return manifest
}

// writeManifest drops a manifest.json next to the copies so snapshots are
// self-describing for manual recovery.
func (m *SnapshotManager) writeManifest(manifest *BackupManifest) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(manifest.Root, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.log.Warnf("Could not write backup manifest: %v", err)
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			// Sockets and device nodes have no place in a config backup.
			return nil
		}
		return copyFile(path, target, info.Mode())
	})
}
