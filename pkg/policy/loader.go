package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// LoadDir loads user policies from dir, in lexical path order. A
// missing directory is not an error: most installs never write one.
func LoadDir(dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		policies = append(policies, parsePolicyFile(path, src))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engine.NewStorageError(fmt.Sprintf("could not read policy directory %s", dir), err)
	}
	return policies, nil
}

// parsePolicyFile builds a Policy from one .rego file. The name comes
// from the file name. Leading comment lines may carry directives:
//
//	# severity: warning
//	# disabled
//
// The first plain comment line becomes the description. User policies
// default to error severity: someone who writes a policy wants it
// enforced, not merely mentioned.
func parsePolicyFile(path string, src []byte) Policy {
	p := Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Severity: SeverityError,
		Enabled:  true,
		Source:   SourceUser,
		Path:     path,
		Rego:     string(src),
	}
	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		switch {
		case strings.HasPrefix(comment, "severity:"):
			p.Severity = ParseSeverity(strings.TrimSpace(strings.TrimPrefix(comment, "severity:")), SeverityError)
		case comment == "disabled":
			p.Enabled = false
		case p.Description == "" && comment != "":
			p.Description = comment
		}
	}
	return p
}

// watchDebounce coalesces editor save bursts into one reload.
const watchDebounce = 500 * time.Millisecond

// Watch watches dir for policy file changes and calls onChange after
// each debounced burst. It blocks on the calling goroutine until ctx
// is cancelled. The directory must exist.
func Watch(ctx context.Context, log *telemetry.Logger, dir string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return engine.NewInternalError("could not start filesystem watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return engine.NewValidationError(fmt.Sprintf("could not watch %s", dir), err)
	}

	wlog := log.NewComponentLogger("policy")
	wlog.Infof("Watching %s for policy changes", dir)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantChange(ev) {
				continue
			}
			wlog.Debugf("Policy file changed: %s (%s)", ev.Name, ev.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			fire = timer.C
		case <-fire:
			timer, fire = nil, nil
			onChange()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			wlog.Warnf("Watcher error: %v", werr)
		}
	}
}

// relevantChange filters events down to mutations of .rego files.
func relevantChange(ev fsnotify.Event) bool {
	if filepath.Ext(ev.Name) != ".rego" {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
