// Package store keeps fetched raw results and parsed attribute records of
// an experiment, one file per run, under the experiment's eval directory.
package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/internal/fsutil"
)

// ErrNotFound is returned when a run has no stored entry.
var ErrNotFound = errors.New("not found")

// RawResult is the captured output of one finished run.
type RawResult struct {
	ID         string             `json:"id"`
	Algorithm  string             `json:"algorithm"`
	Revision   string             `json:"revision"`
	Nick       string             `json:"nick"`
	Domain     string             `json:"domain"`
	Problem    string             `json:"problem"`
	JobID      string             `json:"job_id,omitempty"`
	Status     environment.Status `json:"status"`
	Reason     environment.Reason `json:"reason,omitempty"`
	ExitCode   int                `json:"exit_code"`
	WallTime   float64            `json:"wall_time"`
	PeakMemory uint64             `json:"peak_memory_kb"`
	Message    string             `json:"message,omitempty"`
	Stdout     string             `json:"stdout"`
	Stderr     string             `json:"stderr"`
}

// Record is the parsed attribute record of one run. Values holds numeric
// attributes, Labels textual ones such as the error category.
type Record struct {
	ID        string             `json:"id"`
	Algorithm string             `json:"algorithm"`
	Revision  string             `json:"revision"`
	Nick      string             `json:"nick"`
	Domain    string             `json:"domain"`
	Problem   string             `json:"problem"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels"`
}

// ProblemID returns "domain:problem".
func (r Record) ProblemID() string {
	return r.Domain + ":" + r.Problem
}

// Value returns the numeric attribute name and whether it is present.
func (r Record) Value(name string) (float64, bool) {
	v, ok := r.Values[name]

	return v, ok
}

// Store is a directory of JSON files keyed by run ID. Each write replaces
// the previous entry atomically; runs never share a file.
type Store struct {
	dir string
}

const (
	rawDir    = "raw"
	recordDir = "records"
)

// New opens a store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store dir is required")
	}

	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(kind, id string) string {
	return filepath.Join(s.dir, kind, url.PathEscape(id)+".json")
}

// PutRaw stores raw, replacing any earlier result of the same run.
func (s *Store) PutRaw(raw RawResult) error {
	if raw.ID == "" {
		return errors.New("raw result has no id")
	}

	if err := fsutil.WriteJSON(s.path(rawDir, raw.ID), raw); err != nil {
		return fmt.Errorf("write raw result %s: %w", raw.ID, err)
	}

	return nil
}

// GetRaw loads the raw result of run id.
func (s *Store) GetRaw(id string) (RawResult, error) {
	var raw RawResult
	if err := get(s.path(rawDir, id), &raw); err != nil {
		return RawResult{}, fmt.Errorf("raw result %s: %w", id, err)
	}

	return raw, nil
}

// PutRecord stores rec, replacing any earlier record of the same run.
func (s *Store) PutRecord(rec Record) error {
	if rec.ID == "" {
		return errors.New("record has no id")
	}

	if err := fsutil.WriteJSON(s.path(recordDir, rec.ID), rec); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}

	return nil
}

// GetRecord loads the record of run id.
func (s *Store) GetRecord(id string) (Record, error) {
	var rec Record
	if err := get(s.path(recordDir, id), &rec); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", id, err)
	}

	return rec, nil
}

// Records loads every stored record, ordered by run ID.
func (s *Store) Records() ([]Record, error) {
	ids, err := s.ids(recordDir)
	if err != nil {
		return nil, err
	}

	recs := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(id)
		if err != nil {
			return nil, err
		}

		recs = append(recs, rec)
	}

	return recs, nil
}

// RawIDs lists the IDs with a stored raw result, sorted.
func (s *Store) RawIDs() ([]string, error) {
	return s.ids(rawDir)
}

func (s *Store) ids(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	ids := make([]string, 0, len(entries))

	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}

		id, err := url.PathUnescape(name)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

func get(path string, dst any) error {
	err := fsutil.ReadJSON(path, dst)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}

	return err
}
