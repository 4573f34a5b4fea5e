// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// File keeps every namespace in a single CBOR document:
// {namespace: {key: value}}. Writes replace the file atomically.
type File struct {
	mu        sync.Mutex
	path      string
	namespace string
	doc       map[string]map[string][]byte
}

// OpenFile loads (or prepares to create) the store at path
func OpenFile(path, namespace string) (*File, error) {
	f := &File{
		path:      path,
		namespace: namespace,
		doc:       make(map[string]map[string][]byte),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := cbor.Unmarshal(data, &f.doc); err != nil {
			return nil, fmt.Errorf("decode store %s: %w", path, err)
		}
	}
	if f.doc == nil {
		f.doc = make(map[string]map[string][]byte)
	}
	return f, nil
}

// Path returns the file backing the store
func (f *File) Path() string {
	return f.path
}

// ReadBlob returns the value stored under key
func (f *File) ReadBlob(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.doc[f.namespace][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// WriteBlob stores value under key and flushes the file
func (f *File) WriteBlob(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns := f.doc[f.namespace]
	if ns == nil {
		ns = make(map[string][]byte)
		f.doc[f.namespace] = ns
	}
	prev, had := ns[key]
	ns[key] = append([]byte(nil), value...)

	if err := f.flush(); err != nil {
		if had {
			ns[key] = prev
		} else {
			delete(ns, key)
		}
		return err
	}
	return nil
}

// EraseKey removes key and flushes the file
func (f *File) EraseKey(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns := f.doc[f.namespace]
	if _, ok := ns[key]; !ok {
		return nil
	}
	prev := ns[key]
	delete(ns, key)

	if err := f.flush(); err != nil {
		ns[key] = prev
		return err
	}
	return nil
}

func (f *File) flush() error {
	data, err := cbor.Marshal(f.doc)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	return WriteFileAtomic(f.path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

