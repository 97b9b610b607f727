package learning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Log is an append-only JSONL file of events.
//
// Every append holds an exclusive flock for the duration of one write, and
// every read holds a shared one, so several processes can share a file
// without interleaving partial lines.
type Log struct {
	path string

	mu sync.Mutex
	w  *os.File
	r  *os.File
}

// OpenLog opens or creates the log at path.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating learning log directory: %w", err)
	}
	w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening learning log for append: %w", err)
	}
	r, err := os.Open(path)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("opening learning log for read: %w", err)
	}
	return &Log{path: path, w: w, r: r}, nil
}

// Path returns the file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes events as one locked write.
func (l *Log) Append(events ...Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("%w: encoding event: %v", ErrWriteFailed, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := lockExclusive(l.w); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrWriteFailed, err)
	}
	defer func() { _ = unlock(l.w) }()

	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// ReadFrom decodes complete lines starting at byte offset. It returns the
// offset just past the last complete line and the number of lines it had
// to skip because they did not decode.
func (l *Log) ReadFrom(offset int64) (events []Event, next int64, skipped int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := lockShared(l.r); err != nil {
		return nil, offset, 0, fmt.Errorf("lock learning log: %w", err)
	}
	defer func() { _ = unlock(l.r) }()

	info, err := l.r.Stat()
	if err != nil {
		return nil, offset, 0, fmt.Errorf("stat learning log: %w", err)
	}
	if info.Size() < offset {
		// Truncated underneath us; start over.
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, 0, nil
	}

	data, err := io.ReadAll(io.NewSectionReader(l.r, offset, info.Size()-offset))
	if err != nil {
		return nil, offset, 0, fmt.Errorf("read learning log: %w", err)
	}

	// A trailing line without a newline is still being written.
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, offset, 0, nil
	}
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Validate() != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, offset + int64(end) + 1, skipped, nil
}

// Close closes the underlying files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	werr := l.w.Close()
	rerr := l.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
