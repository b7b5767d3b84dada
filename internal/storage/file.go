package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileJournal appends events as JSON lines.
type FileJournal struct {
	path string
	mu   sync.Mutex
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init journal file: %w", err)
	}
	_ = f.Close()
	return &FileJournal{path: path}, nil
}

func (j *FileJournal) Append(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(event); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

func (j *FileJournal) Load() ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read()
}

// Prune drops events older than before and reports how many were removed.
func (j *FileJournal) Prune(before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	events, err := j.read()
	if err != nil {
		return 0, err
	}
	kept := events[:0]
	for _, ev := range events {
		if !ev.Timestamp.Before(before) {
			kept = append(kept, ev)
		}
	}
	removed := len(events) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	tmp := j.path + ".tmp"
	wf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open write: %w", err)
	}
	enc := json.NewEncoder(wf)
	for _, ev := range kept {
		if err := enc.Encode(ev); err != nil {
			_ = wf.Close()
			return 0, fmt.Errorf("encode: %w", err)
		}
	}
	if err := wf.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return 0, fmt.Errorf("replace journal: %w", err)
	}
	return removed, nil
}

// read is called with j.mu held. Malformed lines are skipped.
func (j *FileJournal) read() ([]Event, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	var events []Event
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return events, nil
}
