// Package store persists the grade snapshot as a JSON file and keeps a
// history of every detected change in SQLite.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gradewatch/internal/grades"
)

// SnapshotFile is the JSON file holding the last known grade snapshot.
type SnapshotFile struct {
	path string
}

func NewSnapshotFile(path string) SnapshotFile {
	return SnapshotFile{path: path}
}

func (f SnapshotFile) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file is an empty snapshot. The legacy
// format, a list of course names, loads as courses with no total and no
// components.
func (f SnapshotFile) Load() (grades.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return grades.Snapshot{}, nil
	}
	if err != nil {
		return grades.Snapshot{}, err
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (grades.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return grades.Snapshot{}, nil
	}

	switch data[0] {
	case '[':
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return grades.Snapshot{}, fmt.Errorf("decode legacy snapshot: %w", err)
		}
		out := make(grades.Snapshot, len(names))
		for _, name := range names {
			out[name] = grades.State{Components: []grades.Component{}}
		}
		return out, nil
	case '{':
		var out grades.Snapshot
		if err := json.Unmarshal(data, &out); err != nil {
			return grades.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		for name, state := range out {
			if state.Components == nil {
				state.Components = []grades.Component{}
				out[name] = state
			}
		}
		return out, nil
	}
	return grades.Snapshot{}, fmt.Errorf("decode snapshot: unexpected json value starting with %q", data[0])
}

// Save replaces the file atomically, readers see either the old or the new
// snapshot but never a partial one.
func (f SnapshotFile) Save(snapshot grades.Snapshot) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(snapshot); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
