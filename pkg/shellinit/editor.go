// Package shellinit edits shell startup files through clearly delimited
// managed blocks, so repeated runs converge instead of appending duplicate
// init lines. The block delimiters follow the conda convention:
//
//	# >>> bootforge init >>>
//	...managed content...
//	# <<< bootforge init <<<
//
// Everything outside the markers belongs to the user and is never touched.
package shellinit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// DefaultMarker identifies the block managed by this tool.
const DefaultMarker = "bootforge init"

// Editor rewrites startup files atomically: the new content lands in a
// temp file in the same directory and is renamed over the original, with
// the previous version kept next to it as <path>.bak.
type Editor struct {
	log *telemetry.Logger
}

// NewEditor creates an editor logging through the given logger.
func NewEditor(log *telemetry.Logger) *Editor {
	return &Editor{log: log.NewComponentLogger("shellinit")}
}

// EnsureBlock inserts or replaces the managed block in the file at path.
// A missing file is created holding only the block. Returns true when the
// file changed on disk.
func (e *Editor) EnsureBlock(path, marker, content string) (bool, error) {
	original, mode, exists, err := readStartupFile(path)
	if err != nil {
		return false, err
	}

	lines := splitLines(original)
	blockLines := renderBlock(marker, content)

	start, end, err := findBlock(lines, marker)
	if err != nil {
		return false, engine.NewShellInitError("malformed managed block in "+path, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}

	var next []string
	switch {
	case start >= 0:
		if equalLines(lines[start:end+1], blockLines) {
			e.log.Debugf("Managed block in %s already up to date", path)
			return false, nil
		}
		next = append(next, lines[:start]...)
		next = append(next, blockLines...)
		next = append(next, lines[end+1:]...)
	case len(lines) == 0:
		next = blockLines
	default:
		next = append(next, lines...)
		next = append(next, blockLines...)
	}

	if err := e.rewrite(path, original, joinLines(next), mode, exists); err != nil {
		return false, err
	}
	e.log.Infof("Updated managed block in %s", path)
	return true, nil
}

// RemoveBlock deletes the managed block from the file at path. A missing
// file or missing block is a no-op. Returns true when the file changed.
func (e *Editor) RemoveBlock(path, marker string) (bool, error) {
	original, mode, exists, err := readStartupFile(path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	lines := splitLines(original)
	start, end, err := findBlock(lines, marker)
	if err != nil {
		return false, engine.NewShellInitError("malformed managed block in "+path, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	if start < 0 {
		e.log.Debugf("No managed block in %s", path)
		return false, nil
	}

	next := append([]string{}, lines[:start]...)
	next = append(next, lines[end+1:]...)

	if err := e.rewrite(path, original, joinLines(next), mode, exists); err != nil {
		return false, err
	}
	e.log.Infof("Removed managed block from %s", path)
	return true, nil
}

// rewrite backs up the current file and atomically replaces it.
func (e *Editor) rewrite(path, original, next string, mode os.FileMode, exists bool) error {
	if exists {
		if err := os.WriteFile(path+".bak", []byte(original), mode); err != nil {
			return engine.NewShellInitError("could not back up "+path, err).
				WithCode(engine.ErrCodeShellInitFailed)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".shellinit-*")
	if err != nil {
		return engine.NewShellInitError("could not create temp file in "+dir, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.WriteString(next)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		return engine.NewShellInitError("could not write "+path, writeErr).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return engine.NewShellInitError("could not set mode on "+path, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return engine.NewShellInitError("could not replace "+path, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	return nil
}

// readStartupFile loads the file, reporting whether it exists and with
// which mode. New files get 0644.
func readStartupFile(path string) (content string, mode os.FileMode, exists bool, err error) {
	mode = 0o644
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", mode, false, nil
	}
	if err != nil {
		return "", mode, false, engine.NewShellInitError("could not read "+path, err).
			WithCode(engine.ErrCodeShellInitFailed)
	}
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	return string(data), mode, true, nil
}

func beginMarker(marker string) string { return "# >>> " + marker + " >>>" }
func endMarker(marker string) string   { return "# <<< " + marker + " <<<" }

// renderBlock produces the canonical block lines for marker and content.
func renderBlock(marker, content string) []string {
	lines := []string{beginMarker(marker)}
	content = strings.TrimRight(content, "\n")
	if content != "" {
		lines = append(lines, strings.Split(content, "\n")...)
	}
	return append(lines, endMarker(marker))
}

// findBlock locates the managed block and returns the inclusive line range,
// or -1 when absent. A begin marker without its end marker is an error.
func findBlock(lines []string, marker string) (int, int, error) {
	begin, end := beginMarker(marker), endMarker(marker)
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start < 0 && trimmed == begin {
			start = i
			continue
		}
		if start >= 0 && trimmed == end {
			return start, i, nil
		}
	}
	if start >= 0 {
		return -1, -1, errBlockUnterminated
	}
	return -1, -1, nil
}

var errBlockUnterminated = errors.New("begin marker present without matching end marker")

// splitLines splits file content into lines without trailing-newline
// artifacts: "a\nb\n" becomes ["a", "b"].
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(content, "\n"), "\n")
}

// joinLines renders lines back to file content with a trailing newline.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
