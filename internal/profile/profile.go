// Package profile persists stats snapshots into append-only CSV logs.
//
// Each category gets its own log type; files are laid out under a profile
// root directory, one file per cluster node (and per service or proxy
// where applicable). Logs keep their file handles open across writes, so
// a log instance reused across reconfigurations keeps appending to the
// same files.
package profile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// csvTable is one append-only CSV file with a fixed header.
type csvTable struct {
	path string
	file *os.File
	w    *csv.Writer
}

// openTable opens (or creates) the CSV file at path. The header row is
// written only when the file is newly created or empty.
func openTable(path string, header []string) (*csvTable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	//nolint:gosec // G304: Path is built from the configured profile root.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile log: %w", err)
	}

	t := &csvTable{path: path, file: file, w: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat profile log: %w", err)
	}
	if info.Size() == 0 {
		if err := t.append(header); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	return t, nil
}

func (t *csvTable) append(row []string) error {
	if err := t.w.Write(row); err != nil {
		return fmt.Errorf("failed to write profile row: %w", err)
	}
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return fmt.Errorf("failed to flush profile row: %w", err)
	}
	return nil
}

func (t *csvTable) Close() error {
	t.w.Flush()
	return t.file.Close()
}

// tableSet lazily opens tables keyed by relative file path.
type tableSet struct {
	root   string
	tables map[string]*csvTable
}

func newTableSet(root string) *tableSet {
	return &tableSet{root: root, tables: make(map[string]*csvTable)}
}

func (s *tableSet) table(rel string, header []string) (*csvTable, error) {
	if t, ok := s.tables[rel]; ok {
		return t, nil
	}
	t, err := openTable(filepath.Join(s.root, rel), header)
	if err != nil {
		return nil, err
	}
	s.tables[rel] = t
	return t, nil
}

func (s *tableSet) Close() error {
	var firstErr error
	for _, t := range s.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.tables = make(map[string]*csvTable)
	return firstErr
}

// sortedKeys yields map keys in a stable order so rows across files line
// up deterministically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fmtU(v uint64) string  { return strconv.FormatUint(v, 10) }
func fmtI(v int) string     { return strconv.Itoa(v) }
func fmtI64(v int64) string { return strconv.FormatInt(v, 10) }
func fmtF(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
