// Package jsonfile provides durable JSON document storage on top of the
// filesystem: every write goes to a temp file in the target directory
// and is renamed into place, so a reader never observes a partially
// written document, and a crash mid-write leaves the prior version (or
// nothing) rather than corrupt bytes.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteAtomic marshals v as indented JSON and writes it to path via a
// temp-file-then-rename, holding an advisory lock on a sibling ".lock"
// file for the duration so concurrent writers to the same path
// serialize rather than race on the rename.
func WriteAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonfile: mkdir %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("jsonfile: locking %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshaling %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonfile: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: writing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("jsonfile: renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// ReadInto reads path and unmarshals it into v. Returns an *os.PathError
// wrapping os.ErrNotExist when path doesn't exist; callers check with
// os.IsNotExist.
func ReadInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsonfile: parsing %s: %w", path, err)
	}
	return nil
}

// ListJSONFiles returns the base names (without ".json" extension) of
// every *.json file directly in dir, sorted by os.ReadDir's default
// (lexical) order. Returns an empty slice, not an error, if dir doesn't
// exist yet.
func ListJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jsonfile: reading dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".json" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}
