// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ota downloads firmware images over HTTP and installs them in place.
package ota

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
)

// ErrChecksum is returned when the downloaded image does not match its digest
var ErrChecksum = errors.New("checksum mismatch")

// DefaultTimeout bounds a whole download
const DefaultTimeout = 5 * time.Minute

// Updater installs images into FirmwarePath or FilesystemPath
type Updater struct {
	FirmwarePath   string
	FilesystemPath string
	Client         *http.Client
	Timeout        time.Duration
	Log            zerolog.Logger
}

var _ node.Updater = (*Updater)(nil)

// UpdateFrom downloads url and installs it for mode. A non-empty md5 must
// match the image (hex, any case). The target is only replaced once the
// whole image is on disk and verified.
func (u *Updater) UpdateFrom(url string, mode node.FlashMode, md5sum string) error {
	target, err := u.target(mode)
	if err != nil {
		return err
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return u.download(ctx, url, target, md5sum)
}

func (u *Updater) target(mode node.FlashMode) (string, error) {
	switch mode {
	case node.FlashFirmware:
		if u.FirmwarePath == "" {
			return "", errors.New("ota: no firmware path configured")
		}
		return u.FirmwarePath, nil
	case node.FlashFilesystem:
		if u.FilesystemPath == "" {
			return "", errors.New("ota: no filesystem path configured")
		}
		return u.FilesystemPath, nil
	default:
		return "", fmt.Errorf("ota: unknown flash mode %d", mode)
	}
}

func (u *Updater) download(ctx context.Context, url, target, md5sum string) error {
	log := u.Log.With().Str("url", url).Str("target", target).Logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ota: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ota: download: HTTP %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	defer func() {
		// Only left behind when something failed
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if err != nil {
		return fmt.Errorf("ota: download: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("ota: download: got %d of %d bytes", n, resp.ContentLength)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if md5sum != "" && !strings.EqualFold(sum, strings.TrimSpace(md5sum)) {
		log.Warn().Str("expected", md5sum).Str("actual", sum).Msg("image rejected")
		return fmt.Errorf("ota: %w: expected %s, got %s", ErrChecksum, md5sum, sum)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("ota: install: %w", err)
	}

	log.Info().Int64("bytes", n).Str("md5", sum).Dur("elapsed", time.Since(start)).Msg("image installed")
	return nil
}
