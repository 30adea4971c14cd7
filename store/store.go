package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is an append-only list of text lines persisted in a single flat
// file, one line per record. Every read goes back to the file.
type FileStore struct {
	path string
}

// New creates a FileStore backed by the file at path. The file is not
// touched until the first Append.
func New(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location
func (s *FileStore) Path() string {
	return s.path
}

// Append writes line followed by a newline, creating the file if needed.
// Carriage returns and newlines inside line are replaced with spaces.
func (s *FileStore) Append(line string) (err error) {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open store for append: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()

	if _, err := f.WriteString(sanitize(line) + "\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// ReadAll returns every stored line in file order with line terminators
// stripped. A missing file is an empty store.
func (s *FileStore) ReadAll() ([]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer f.Close()

	lines := []string{}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			lines = append(lines, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read store: %w", err)
		}
	}
	return lines, nil
}

// Clear removes the backing file. Removing a file that does not exist
// succeeds.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove store: %w", err)
	}
	return nil
}

func sanitize(line string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, line)
}
