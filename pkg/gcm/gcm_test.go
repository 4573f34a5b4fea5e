// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcm

import (
	"bytes"
	"errors"
	"testing"
)

var (
	testKey    = []byte("0123456789ABCDEF")
	testSecret = []byte("01234567")
)

func mustCipher(t *testing.T, key, secret []byte) *Cipher {
	t.Helper()
	c, err := New(key, secret)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		secret  []byte
		wantErr bool
	}{
		{"valid", testKey, testSecret, false},
		{"short key", testKey[:15], testSecret, true},
		{"long key", append(testKey, 'x'), testSecret, true},
		{"short secret", testKey, testSecret[:7], true},
		{"long secret", testKey, append(testSecret, 'x'), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	c := mustCipher(t, testKey, testSecret)

	for _, plaintext := range [][]byte{{}, {0x02}, bytes.Repeat([]byte{0xAA}, 79)} {
		sealed, err := c.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if len(sealed) != len(plaintext)+Overhead {
			t.Errorf("sealed length = %d, want %d", len(sealed), len(plaintext)+Overhead)
		}
		opened, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("Open() = % X, want % X", opened, plaintext)
		}
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	c := mustCipher(t, testKey, testSecret)
	a, _ := c.Seal([]byte("same"))
	b, _ := c.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext produced identical output")
	}
}

func TestOpen_Tampered(t *testing.T) {
	c := mustCipher(t, testKey, testSecret)
	sealed, err := c.Seal([]byte("reading"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	for i := range sealed {
		corrupt := append([]byte(nil), sealed...)
		corrupt[i] ^= 0x01
		if _, err := c.Open(corrupt); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("Open() with byte %d flipped error = %v, want ErrAuthentication", i, err)
		}
	}
}

func TestOpen_WrongSecret(t *testing.T) {
	sender := mustCipher(t, testKey, testSecret)
	receiver := mustCipher(t, testKey, []byte("76543210"))

	sealed, err := sender.Seal([]byte("reading"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := receiver.Open(sealed); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Open() error = %v, want ErrAuthentication", err)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sender := mustCipher(t, testKey, testSecret)
	receiver := mustCipher(t, []byte("FEDCBA9876543210"), testSecret)

	sealed, _ := sender.Seal([]byte("reading"))
	if _, err := receiver.Open(sealed); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Open() error = %v, want ErrAuthentication", err)
	}
}

func TestOpen_Short(t *testing.T) {
	c := mustCipher(t, testKey, testSecret)
	if _, err := c.Open(make([]byte, Overhead-1)); !errors.Is(err, ErrShort) {
		t.Errorf("Open() error = %v, want ErrShort", err)
	}
}
