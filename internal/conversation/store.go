package conversation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/parley/internal/log"
)

// Store persists the turn history as JSONL, one turn per line.
// Content round-trips exactly: it is never re-escaped or reformatted
// beyond standard JSON string encoding.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted turn history. A missing file yields an empty
// history. A malformed file is treated as unrecoverable state: the history
// resets to empty rather than failing startup.
func (s *Store) Load() ([]Turn, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading turn history: %w", err)
	}

	var turns []Turn
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil {
			log.Warn(log.CatStore, "Malformed turn history, resetting to empty", "path", s.path, "error", err)
			return nil, nil
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		log.Warn(log.CatStore, "Unreadable turn history, resetting to empty", "path", s.path, "error", err)
		return nil, nil
	}
	return turns, nil
}

// Save writes the full turn history atomically (temp file + rename) so a
// reader never observes a partial write.
func (s *Store) Save(turns []Turn) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, t := range turns {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encoding turn: %w", err)
		}
	}
	return atomicWrite(s.path, buf.Bytes())
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
