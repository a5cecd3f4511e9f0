// Package document reads planning documents and writes edits back to them.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/harrisonrobin/sprintplanner/pkg/edit"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
)

// ErrModified is returned by ApplyEdits when the document changed after it was read.
var ErrModified = errors.New("document changed since it was read")

// File is a planning document on disk. Edits are applied against the snapshot taken
// by the last call to Lines and written with a rename so readers never see a partial
// document.
type File struct {
	path string

	mu       sync.Mutex
	snapshot []byte
}

// NewFile returns the document stored at path. The file is not read until Lines.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the location of the document.
func (f *File) Path() string { return f.path }

// Lines reads the document and remembers it as the snapshot edits refer to.
func (f *File) Lines() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.snapshot = data
	f.mu.Unlock()
	return parser.SplitLines(string(data)), nil
}

// ApplyEdits applies the batch to the snapshot and replaces the file.
func (f *File) ApplyEdits(ctx context.Context, edits []edit.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshot == nil {
		return fmt.Errorf("no snapshot of %s, call Lines first", f.path)
	}
	current, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if !bytes.Equal(current, f.snapshot) {
		return ErrModified
	}

	lines, ends := splitKeepEnds(string(f.snapshot))
	lines, err = edit.Apply(lines, edits)
	if err != nil {
		return err
	}
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(line)
		b.WriteString(ends[i])
	}
	out := []byte(b.String())

	if err := writeAtomic(f.path, out); err != nil {
		return err
	}
	f.snapshot = out
	return nil
}

// Locker returns the cross-process lock guarding publishes of this document.
func (f *File) Locker() *flock.Flock {
	return flock.New(f.path + ".lock")
}

// splitKeepEnds splits text like parser.SplitLines and also returns the terminator
// that followed each line: "\n", "\r\n", or "" for the last one.
func splitKeepEnds(text string) (lines, ends []string) {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return append(lines, text), append(ends, "")
		}
		line, end := text[:i], "\n"
		if strings.HasSuffix(line, "\r") {
			line, end = line[:len(line)-1], "\r\n"
		}
		lines, ends = append(lines, line), append(ends, end)
		text = text[i+1:]
	}
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Buffer is an in-memory document.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer returns a buffer holding text.
func NewBuffer(text string) *Buffer {
	return &Buffer{lines: parser.SplitLines(text)}
}

func (b *Buffer) Lines() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...), nil
}

func (b *Buffer) ApplyEdits(_ context.Context, edits []edit.Edit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines, err := edit.Apply(b.lines, edits)
	if err != nil {
		return err
	}
	b.lines = lines
	return nil
}

// String returns the buffer joined with LF.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
