package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"planboard/internal/model"
	logx "planboard/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps every record in memory and persists it as:
//   - <prefix>.snapshot.json (full map, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only put/del records since the snapshot)
//
// Compaction writes the snapshot to a temp file, renames it into place and
// truncates the journal.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	recs         map[string]model.Record
	writes       int
}

type journalEntry struct {
	Op     string        `json:"op"` // put | del
	ID     string        `json:"id"`
	Record *model.Record `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		recs:         map[string]model.Record{},
	}
	if err := loadSnapshot(s.snapshotPath, s.recs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	replayed, err := replayJournal(journalPath, s.recs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("records", len(s.recs)), logx.Int("replayed", replayed))
	return s, nil
}

func (s *fileStore) Get(_ context.Context, id string) (model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return model.Record{}, false, ErrClosed
	}
	r, ok := s.recs[id]
	return clone(r), ok, nil
}

func (s *fileStore) Update(_ context.Context, id string, rec model.Record) error {
	rec.ID = id
	rec = clone(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalEntry{Op: "put", ID: id, Record: &rec}); err != nil {
		return err
	}
	s.recs[id] = rec
	return nil
}

func (s *fileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.recs[id]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalEntry{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.recs, id)
	return nil
}

func (s *fileStore) List(context.Context) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]model.Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, clone(r))
	}
	sortRecords(out)
	return out, nil
}

// Close compacts the journal so the next open reads a single snapshot.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	return errors.Join(cerr, err)
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort: the journal still holds everything on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]model.Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]model.Record
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal entries in order. A torn last line (crash
// mid-write) is skipped.
func replayJournal(path string, out map[string]model.Record) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.ID == "" {
			continue
		}
		switch e.Op {
		case "put":
			if e.Record != nil {
				out[e.ID] = *e.Record
			}
		case "del":
			delete(out, e.ID)
		}
		n++
	}
	return n, sc.Err()
}
