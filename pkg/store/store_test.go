// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type kv interface {
	ReadBlob(key string) ([]byte, bool)
	WriteBlob(key string, value []byte) error
	EraseKey(key string) error
}

// exerciseStore runs the behaviour every backend must share
func exerciseStore(t *testing.T, s kv) {
	t.Helper()

	if _, ok := s.ReadBlob("channel"); ok {
		t.Fatal("ReadBlob() on empty store returned a value")
	}

	if err := s.WriteBlob("channel", []byte{20}); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	if err := s.WriteBlob("host", []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}

	got, ok := s.ReadBlob("channel")
	if !ok || !bytes.Equal(got, []byte{20}) {
		t.Errorf("ReadBlob(channel) = %v, %v", got, ok)
	}

	if err := s.WriteBlob("channel", []byte{15}); err != nil {
		t.Fatalf("WriteBlob() overwrite error = %v", err)
	}
	got, _ = s.ReadBlob("channel")
	if !bytes.Equal(got, []byte{15}) {
		t.Errorf("ReadBlob(channel) after overwrite = %v", got)
	}

	if err := s.EraseKey("channel"); err != nil {
		t.Fatalf("EraseKey() error = %v", err)
	}
	if _, ok := s.ReadBlob("channel"); ok {
		t.Error("ReadBlob() returned erased key")
	}
	if _, ok := s.ReadBlob("host"); !ok {
		t.Error("EraseKey() removed an unrelated key")
	}
	if err := s.EraseKey("missing"); err != nil {
		t.Errorf("EraseKey(missing) error = %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_FailWrites(t *testing.T) {
	m := NewMemory()
	m.FailWrites = true
	if err := m.WriteBlob("k", []byte{1}); err == nil {
		t.Error("WriteBlob() expected error")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after failed write", m.Len())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	value := []byte{1, 2}
	_ = m.WriteBlob("k", value)
	value[0] = 9
	got, _ := m.ReadBlob("k")
	if got[0] != 1 {
		t.Error("store aliases caller buffer")
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	f, err := OpenFile(path, DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	exerciseStore(t, f)
}

func TestFile_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.cbor")

	f, err := OpenFile(path, DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if err := f.WriteBlob("host", []byte{0xAA}); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}

	again, err := OpenFile(path, DefaultNamespace)
	if err != nil {
		t.Fatalf("OpenFile() reopen error = %v", err)
	}
	got, ok := again.ReadBlob("host")
	if !ok || !bytes.Equal(got, []byte{0xAA}) {
		t.Errorf("ReadBlob() after reopen = %v, %v", got, ok)
	}

	other, err := OpenFile(path, "other")
	if err != nil {
		t.Fatalf("OpenFile() other namespace error = %v", err)
	}
	if _, ok := other.ReadBlob("host"); ok {
		t.Error("namespaces are not isolated")
	}
}

func TestFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := os.WriteFile(path, []byte{0xFF, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path, DefaultNamespace); err == nil {
		t.Error("OpenFile() expected error for corrupt file")
	}
}

func TestWriteFileAtomic_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.cbor")
	if err := WriteFileAtomic(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQLite(context.Background(), path, DefaultNamespace, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQLite(context.Background(), path, DefaultNamespace, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.WriteBlob("channel", []byte{11}); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	s.Close()

	s, err = OpenSQLite(context.Background(), path, DefaultNamespace, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite() reopen error = %v", err)
	}
	defer s.Close()
	got, ok := s.ReadBlob("channel")
	if !ok || !bytes.Equal(got, []byte{11}) {
		t.Errorf("ReadBlob() after reopen = %v, %v", got, ok)
	}
}
