// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gcm implements the authenticated envelope wrapped around every
// radio frame: AES-128-GCM with a random nonce prefix and a shared secret
// that must be present in every decrypted payload.
package gcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize    = 16
	SecretSize = 8
	NonceSize  = 12
	TagSize    = 16

	// Overhead is the number of bytes Seal adds to a plaintext
	Overhead = NonceSize + SecretSize + TagSize
)

var (
	// ErrAuthentication is returned when a ciphertext fails the GCM tag or secret check
	ErrAuthentication = errors.New("message authentication failed")
	// ErrShort is returned when a ciphertext cannot hold nonce, secret and tag
	ErrShort = errors.New("ciphertext too short")
)

// Cipher seals and opens radio frames
type Cipher struct {
	aead   cipher.AEAD
	secret []byte
	rand   io.Reader
}

// New creates a Cipher from a 16-byte key and an 8-byte integrity secret
func New(key, secret []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("encryption secret must be %d bytes, got %d", SecretSize, len(secret))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{
		aead:   aead,
		secret: append([]byte(nil), secret...),
		rand:   rand.Reader,
	}, nil
}

// Seal encrypts plaintext. Output layout: nonce | ciphertext(secret | plaintext) | tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, Overhead+len(plaintext))
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	inner := make([]byte, 0, SecretSize+len(plaintext))
	inner = append(inner, c.secret...)
	inner = append(inner, plaintext...)

	return c.aead.Seal(nonce, nonce, inner, nil), nil
}

// Open authenticates and decrypts a sealed frame
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrShort, len(sealed))
	}

	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	inner, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	if subtle.ConstantTimeCompare(inner[:SecretSize], c.secret) != 1 {
		return nil, ErrAuthentication
	}

	return inner[SecretSize:], nil
}
