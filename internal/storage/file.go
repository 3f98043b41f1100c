package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "puckbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.posts.jsonl              (append-only JSON Lines)
//   - <prefix>.baselines.snapshot.json  (periodic snapshot)
//   - <prefix>.baselines.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	postsFile *os.File

	baselineSnapshotPath string
	baselineJournalFile  *os.File
	baselines            map[int64]Baseline

	baselineWrites int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	postsPath := prefix + ".posts.jsonl"
	snapPath := prefix + ".baselines.snapshot.json"
	journalPath := prefix + ".baselines.journal.jsonl"

	pf, err := os.OpenFile(postsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load baselines from snapshot + journal.
	baselines := map[int64]Baseline{}
	_ = loadBaselineSnapshot(snapPath, baselines)
	_ = replayBaselineJournal(journalPath, baselines)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	return &fileStore{
		log:                  log,
		postsFile:            pf,
		baselineSnapshotPath: snapPath,
		baselineJournalFile:  jf,
		baselines:            baselines,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.postsFile != nil {
		err1 = s.postsFile.Close()
		s.postsFile = nil
	}
	if s.baselineJournalFile != nil {
		err2 = s.baselineJournalFile.Close()
		s.baselineJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendPost(ctx context.Context, r PostRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.postsFile == nil {
		return errors.New("posts file closed")
	}
	enc := json.NewEncoder(s.postsFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return nil
}

func (s *fileStore) PutBaseline(ctx context.Context, b Baseline) error {
	_ = ctx
	if b.PlayerID == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselineJournalFile == nil {
		return errors.New("baseline journal closed")
	}
	if s.baselines == nil {
		s.baselines = map[int64]Baseline{}
	}
	s.baselines[b.PlayerID] = b

	// Append journal record.
	enc := json.NewEncoder(s.baselineJournalFile)
	if err := enc.Encode(b); err != nil {
		return err
	}
	s.baselineWrites++
	if s.baselineWrites%200 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("baseline compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetBaseline(ctx context.Context, playerID int64) (Baseline, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines == nil {
		return Baseline{}, false, nil
	}
	b, ok := s.baselines[playerID]
	return b, ok, nil
}

func (s *fileStore) compactLocked() error {
	if s.baselines == nil {
		return nil
	}

	tmp := s.baselineSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.baselines); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.baselineSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.baselineJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.baselineJournalFile.Seek(0, 2)
	return err
}

func loadBaselineSnapshot(path string, out map[int64]Baseline) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[int64]Baseline
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayBaselineJournal(path string, out map[int64]Baseline) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var b Baseline
		if err := json.Unmarshal(s.Bytes(), &b); err != nil {
			continue
		}
		if b.PlayerID == 0 {
			continue
		}
		out[b.PlayerID] = b
	}
	return s.Err()
}
