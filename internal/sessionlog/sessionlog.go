// Package sessionlog persists a session's raw command transcript to the
// `logs/<session_id>.log` file named in the persisted-state layout,
// rotating to `<session_id>.<n>.log` once the active file reaches the
// configured size limit.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memoryvault/pkg/types"
)

// entry is one JSON line appended per logged command.
type entry struct {
	Command  string         `json:"command"`
	Output   string         `json:"output"`
	ExitCode int            `json:"exit_code"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Writer appends a session's commands to its log file, rotating by size.
type Writer struct {
	mu        sync.Mutex
	path      string
	maxSize   int64
	nextIndex int
	file      *os.File
	size      int64
}

// Open creates or resumes the log file for sessionID under dir. A
// non-positive maxSizeMB disables rotation.
func Open(dir, sessionID string, maxSizeMB int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &Writer{
		path:      filepath.Join(dir, sessionID+".log"),
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		nextIndex: 1,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openFile() error {
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat session log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// AppendCommand writes one command/output pair as a JSON line, rotating
// the file first if it would exceed the size limit.
func (w *Writer) AppendCommand(cmd types.SessionCommand) error {
	line, err := json.Marshal(entry{
		Command:  cmd.Command,
		Output:   cmd.Output,
		ExitCode: cmd.ExitCode,
		Metadata: cmd.Metadata,
		At:       cmd.At,
	})
	if err != nil {
		return fmt.Errorf("marshal session log entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSize > 0 && w.size+int64(len(line)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	return err
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// rotate renames the active file to the next unused <session_id>.<n>.log
// suffix and opens a fresh active file in its place.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close session log before rotation: %w", err)
	}

	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)

	rotated := fmt.Sprintf("%s.%d%s", base, w.nextIndex, ext)
	for {
		if _, err := os.Stat(rotated); os.IsNotExist(err) {
			break
		}
		w.nextIndex++
		rotated = fmt.Sprintf("%s.%d%s", base, w.nextIndex, ext)
	}

	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("rotate session log: %w", err)
	}
	w.nextIndex++
	w.size = 0
	return w.openFile()
}
