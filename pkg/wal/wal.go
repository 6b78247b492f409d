// Package wal is a minimal append-only line log for the reference engine's
// round progression, so `dump-wal` has something to print without the
// state machine itself depending on a write-ahead log for correctness.
package wal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// WAL appends human-readable progress lines.
type WAL interface {
	Append(line string)
}

// Nop discards every line; the default when no WAL path is configured.
type Nop struct{}

func NewNop() *Nop         { return &Nop{} }
func (*Nop) Append(string) {}

// File appends lines to a single file, one per call, flushed immediately
// so `dump-wal` can tail a live node's log.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// NewFile opens (creating if needed) path for append.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

func (w *File) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *File) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadLines reads every line from path, for `dump-wal` to print. A missing
// file returns an empty slice, not an error: a node that never wrote a WAL
// entry yet is not a failure.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

var _ WAL = (*Nop)(nil)
var _ WAL = (*File)(nil)
