// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store provides durable key-value stores for node state.
//
// Every store holds blobs under string keys within a namespace, the same
// shape as a flash key-value partition on an embedded target.
package store

import (
	"errors"
	"sync"
)

// DefaultNamespace is the namespace node state is kept under
const DefaultNamespace = "Ieee802154"

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store closed")

// Memory is a volatile store, useful for tests and simulations
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte

	// FailWrites makes every write fail, emulating a worn-out partition
	FailWrites bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// ReadBlob returns the value stored under key
func (m *Memory) ReadBlob(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// WriteBlob stores value under key
func (m *Memory) WriteBlob(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("write failed")
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// EraseKey removes key. Erasing a missing key is not an error.
func (m *Memory) EraseKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
