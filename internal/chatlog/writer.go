// Package chatlog renders the append-only human-readable conversation
// log: one labeled block per accepted turn, bracketed inline notices for
// everything that did not become a turn.
package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/parley/internal/log"
)

// Separator divides turn blocks in the log.
const Separator = "---"

// DefaultWrapWidth is the wrap column for notice text.
const DefaultWrapWidth = 80

// Config configures a chat log writer.
type Config struct {
	// Path is the primary log file. Always appended, never truncated.
	Path string

	// MirrorKeyword, when non-empty, causes any record mentioning it to
	// be mirrored, timestamped, into MirrorPath.
	MirrorKeyword string
	MirrorPath    string

	// WrapWidth is the wrap column for notices. Zero means
	// DefaultWrapWidth.
	WrapWidth int
}

// Writer appends rendered records to the chat log. It is owned by the
// session loop and not safe for concurrent use.
type Writer struct {
	cfg  Config
	file *os.File
}

// NewWriter opens (or creates) the log file for appending.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.WrapWidth <= 0 {
		cfg.WrapWidth = DefaultWrapWidth
	}
	file, err := openAppend(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening chat log: %w", err)
	}
	return &Writer{cfg: cfg, file: file}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Turn renders one accepted turn as a labeled block followed by the
// separator.
func (w *Writer) Turn(speaker, content string) error {
	record := fmt.Sprintf("**%s**:\n%s\n\n%s\n\n", speaker, strings.TrimRight(content, "\n"), Separator)
	return w.write(record)
}

// Notice renders a bracketed inline notice, wrapped to the configured
// width. Used for discarded-attempt audits, skipped turns, and other
// events that are visible but are not spoken turns.
func (w *Writer) Notice(text string) error {
	wrapped := wordwrap.String(strings.TrimSpace(text), w.cfg.WrapWidth)
	return w.write(fmt.Sprintf("[%s]\n\n", wrapped))
}

// DiscardedAttempt renders the audit notice for one rejected attempt.
func (w *Writer) DiscardedAttempt(speaker string, attempt int, reason string) error {
	return w.Notice(fmt.Sprintf("%s attempt %d discarded: %s", speaker, attempt, reason))
}

// SkippedTurn renders the notice for a turn abandoned after exhausting
// all attempts.
func (w *Writer) SkippedTurn(speaker string, attempts int, reason string) error {
	return w.Notice(fmt.Sprintf("%s turn skipped after %d attempts: %s", speaker, attempts, reason))
}

// write appends the record and mirrors it when it mentions the
// configured keyword.
func (w *Writer) write(record string) error {
	if _, err := w.file.WriteString(record); err != nil {
		return fmt.Errorf("appending chat log: %w", err)
	}
	if w.cfg.MirrorKeyword != "" && w.cfg.MirrorPath != "" &&
		strings.Contains(strings.ToLower(record), strings.ToLower(w.cfg.MirrorKeyword)) {
		if err := w.mirror(record); err != nil {
			// The primary record is already durable; a mirror failure
			// is logged, not fatal.
			log.Warn(log.CatStore, "Mirror write failed", "path", w.cfg.MirrorPath, "error", err)
		}
	}
	return nil
}

func (w *Writer) mirror(record string) error {
	file, err := openAppend(w.cfg.MirrorPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	stamp := time.Now().Format("2006-01-02 15:04:05")
	_, err = fmt.Fprintf(file, "[%s] %s", stamp, record)
	return err
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- path comes from trusted config
}
