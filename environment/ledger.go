package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/weiihann/labrun/internal/fsutil"
)

// Entry records one submission of a run.
type Entry struct {
	Handle
	SubmittedAt time.Time `json:"submitted_at"`
	Status      Status    `json:"status"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Ledger is the persistent map from run ID to its submission. It is what
// makes submission resumable: a restarted orchestrator reloads the handles
// it has to wait for and never resubmits a run it already submitted.
//
// Changes reach disk in two ways. Flush appends the entries changed since
// the last write to a journal next to the snapshot; Save rewrites the
// snapshot and drops the journal. OpenLedger replays the journal over the
// snapshot.
type Ledger struct {
	path    string
	entries map[string]Entry
	dirty   map[string]struct{}
}

// journalLine is one journal record. A nil Entry forgets the run.
type journalLine struct {
	RunID string `json:"run_id"`
	Entry *Entry `json:"entry,omitempty"`
}

// JournalPath is where the ledger at path keeps its journal.
func JournalPath(path string) string {
	return path + ".journal"
}

// OpenLedger loads the ledger at path; a missing file is an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]Entry),
		dirty:   make(map[string]struct{}),
	}

	err := fsutil.ReadJSON(path, &l.entries)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	if err := l.replay(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) replay() error {
	f, err := os.Open(JournalPath(l.path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("open ledger journal: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)

	for {
		var line journalLine

		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// A crash can leave the last line half written.
			return nil
		}

		if err != nil {
			return fmt.Errorf("read ledger journal: %w", err)
		}

		if line.Entry == nil {
			delete(l.entries, line.RunID)
		} else {
			l.entries[line.RunID] = *line.Entry
		}
	}
}

// Get returns the entry of runID.
func (l *Ledger) Get(runID string) (Entry, bool) {
	e, ok := l.entries[runID]

	return e, ok
}

// Record stores a fresh submission.
func (l *Ledger) Record(h Handle, at time.Time) {
	l.entries[h.RunID] = Entry{Handle: h, SubmittedAt: at.UTC()}
	l.dirty[h.RunID] = struct{}{}
}

// Complete stores the terminal state of a handle. Non-terminal
// completions are ignored.
func (l *Ledger) Complete(c Completion) {
	if !c.Status.Terminal() {
		return
	}

	e, ok := l.entries[c.Handle.RunID]
	if !ok {
		e = Entry{Handle: c.Handle}
	}

	e.Status = c.Status
	e.Reason = c.Reason
	e.Message = c.Message
	l.entries[c.Handle.RunID] = e
	l.dirty[c.Handle.RunID] = struct{}{}
}

// Forget drops runID so that it can be submitted again.
func (l *Ledger) Forget(runID string) {
	delete(l.entries, runID)
	l.dirty[runID] = struct{}{}
}

// Pending returns the handles that have no terminal status, ordered by
// run ID.
func (l *Ledger) Pending() []Handle {
	var handles []Handle

	for _, e := range l.entries {
		if !e.Status.Terminal() {
			handles = append(handles, e.Handle)
		}
	}

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].RunID < handles[j].RunID
	})

	return handles
}

// Flush appends the entries changed since the last Flush or Save to the
// journal and syncs it.
func (l *Ledger) Flush() error {
	if len(l.dirty) == 0 {
		return nil
	}

	ids := make([]string, 0, len(l.dirty))
	for id := range l.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf []byte

	for _, id := range ids {
		line := journalLine{RunID: id}
		if e, ok := l.entries[id]; ok {
			line.Entry = &e
		}

		b, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("encode ledger journal: %w", err)
		}

		buf = append(append(buf, b...), '\n')
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	f, err := os.OpenFile(JournalPath(l.path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger journal: %w", err)
	}

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("append ledger journal: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync ledger journal: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger journal: %w", err)
	}

	clear(l.dirty)

	return nil
}

// Save writes the ledger snapshot atomically and drops the journal.
func (l *Ledger) Save() error {
	if err := fsutil.WriteJSON(l.path, l.entries); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}

	if err := os.Remove(JournalPath(l.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove ledger journal: %w", err)
	}

	clear(l.dirty)

	return nil
}
