package eventstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// journalExt is the extension of per-run journal files.
const journalExt = ".ndjson"

// maxLineSize bounds a single journal line. Events carry small payloads;
// anything larger indicates a corrupted file.
const maxLineSize = 1 * 1024 * 1024

// Encoder writes events as NDJSON, one object per line. Every line is
// flushed, so a crash loses at most the line being written.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode appends one event to the stream.
func (e *Encoder) Encode(event telemetry.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return engine.NewInternalError("could not encode event", err)
	}

	if _, err := e.w.Write(line); err != nil {
		return engine.NewStorageError("could not write event", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return engine.NewStorageError("could not write event", err)
	}
	if err := e.w.Flush(); err != nil {
		return engine.NewStorageError("could not flush event", err)
	}
	return nil
}

// JournalPath returns the journal file for a run under dir.
func JournalPath(dir, runID string) string {
	return filepath.Join(dir, runID+journalExt)
}

// Journal appends one run's events to an NDJSON file under the data root.
// It is the durable record of what the run emitted, written as the run
// progresses rather than at the end.
type Journal struct {
	path string
	file *os.File
	enc  *Encoder
}

// OpenJournal creates the journal file for runID under dir, creating dir
// if needed. Opening an existing journal appends to it.
func OpenJournal(dir, runID string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engine.NewStorageError("could not create journal directory", err)
	}

	path := JournalPath(dir, runID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, engine.NewStorageError("could not open journal "+path, err)
	}

	return &Journal{
		path: path,
		file: f,
		enc:  NewEncoder(f),
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Write appends one event.
func (j *Journal) Write(event telemetry.Event) error {
	return j.enc.Encode(event)
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if err := j.file.Close(); err != nil {
		return engine.NewStorageError("could not close journal "+j.path, err)
	}
	return nil
}

// Subscriber returns a bus callback that appends every event to the
// journal. Write failures are logged and swallowed: a full disk must not
// fail the run it is trying to record.
func (j *Journal) Subscriber(log *telemetry.Logger) telemetry.EventSubscriber {
	journalLog := log.NewComponentLogger("journal")
	return func(event telemetry.Event) {
		if err := j.Write(event); err != nil {
			journalLog.Warnf("dropping event %s: %v", event.Type, err)
		}
	}
}

// Stream returns a bus callback that mirrors every event to w as NDJSON.
// Used for --json output, where w is stdout.
func Stream(w io.Writer, log *telemetry.Logger) telemetry.EventSubscriber {
	enc := NewEncoder(w)
	streamLog := log.NewComponentLogger("stream")
	return func(event telemetry.Event) {
		if err := enc.Encode(event); err != nil {
			streamLog.Warnf("dropping event %s: %v", event.Type, err)
		}
	}
}

// Router opens one journal per run under dir, keyed by each event's run
// ID. The orchestrator assigns run IDs when a run starts, so the CLI
// cannot open the journal up front; the router defers opening until the
// run's first event arrives. The event bus dispatches on one goroutine,
// so the router needs no locking.
type Router struct {
	dir      string
	log      *telemetry.Logger
	journals map[string]*Journal
}

// NewRouter creates a router writing journals under dir.
func NewRouter(dir string, log *telemetry.Logger) *Router {
	return &Router{
		dir:      dir,
		log:      log.NewComponentLogger("journal"),
		journals: make(map[string]*Journal),
	}
}

// Subscriber returns a bus callback appending every event to its run's
// journal. Events without a run ID are dropped. A journal that cannot be
// opened is given up on for the rest of the run; failures are logged and
// swallowed so recording never fails the run it records.
func (r *Router) Subscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		if event.RunID == "" {
			return
		}
		j, seen := r.journals[event.RunID]
		if !seen {
			var err error
			j, err = OpenJournal(r.dir, event.RunID)
			if err != nil {
				r.log.Warnf("no journal for run %s: %v", event.RunID, err)
				j = nil
			}
			r.journals[event.RunID] = j
		}
		if j == nil {
			return
		}
		if err := j.Write(event); err != nil {
			r.log.Warnf("dropping event %s: %v", event.Type, err)
		}
	}
}

// Close closes every journal the router opened.
func (r *Router) Close() error {
	var first error
	for _, j := range r.journals {
		if j == nil {
			continue
		}
		if err := j.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Decoder reads events back from a journal stream.
type Decoder struct {
	s    *bufio.Scanner
	line int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)
	return &Decoder{
		s: scanner,
	}
}

// Next returns the next event. Blank lines are skipped. The end of the
// stream is io.EOF.
func (d *Decoder) Next() (*telemetry.Event, error) {
	for d.s.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.s.Bytes())
		if len(raw) == 0 {
			continue
		}

		var event telemetry.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, engine.NewStorageError(fmt.Sprintf("journal line %d does not parse", d.line), err)
		}
		return &event, nil
	}
	if err := d.s.Err(); err != nil {
		return nil, engine.NewStorageError("could not read journal", err)
	}
	return nil, io.EOF
}

// ReadFile loads a run journal. A torn final line is tolerated, since a
// crash mid-append leaves exactly one partial line at the tail; a bad
// line followed by more events is corruption and fails the read.
func ReadFile(path string) ([]telemetry.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewStorageError("no journal at "+path, err).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, engine.NewStorageError("could not open journal "+path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	var events []telemetry.Event
	var torn error
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if torn != nil {
			return nil, torn
		}

		var event telemetry.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			torn = engine.NewStorageError(fmt.Sprintf("journal %s: line %d does not parse", path, line), err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, engine.NewStorageError("could not read journal "+path, err)
	}
	return events, nil
}
