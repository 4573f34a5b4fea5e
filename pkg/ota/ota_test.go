// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
)

var image = []byte("\x7fELF pretend firmware image")

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fw.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(image)
	})
	mux.HandleFunc("/missing.bin", http.NotFound)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func digest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newUpdater(t *testing.T) (*Updater, string) {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "ember")
	if err := os.WriteFile(target, []byte("old image"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &Updater{
		FirmwarePath:   target,
		FilesystemPath: filepath.Join(dir, "fs.img"),
		Log:            zerolog.Nop(),
	}, target
}

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var tmp []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			tmp = append(tmp, e.Name())
		}
	}
	return tmp
}

func TestUpdateFrom(t *testing.T) {
	srv := imageServer(t)

	tests := []struct {
		name      string
		path      string
		md5       string
		wantErr   error
		installed bool
	}{
		{"matching digest", "/fw.bin", digest(image), nil, true},
		{"uppercase digest", "/fw.bin", strings.ToUpper(digest(image)), nil, true},
		{"no digest skips verification", "/fw.bin", "", nil, true},
		{"wrong digest", "/fw.bin", digest([]byte("other")), ErrChecksum, false},
		{"not found", "/missing.bin", "", errors.New("any"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, target := newUpdater(t)
			err := u.UpdateFrom(srv.URL+tt.path, node.FlashFirmware, tt.md5)

			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("UpdateFrom() error = %v", err)
			case tt.wantErr != nil && err == nil:
				t.Fatal("UpdateFrom() succeeded")
			case errors.Is(tt.wantErr, ErrChecksum) && !errors.Is(err, ErrChecksum):
				t.Errorf("UpdateFrom() error = %v, want ErrChecksum", err)
			}

			got, _ := os.ReadFile(target)
			if tt.installed && string(got) != string(image) {
				t.Errorf("target = %q, want new image", got)
			}
			if !tt.installed && string(got) != "old image" {
				t.Errorf("target = %q, old image was replaced", got)
			}
			if tmp := leftovers(t, filepath.Dir(target)); len(tmp) != 0 {
				t.Errorf("temp files left: %v", tmp)
			}
		})
	}
}

func TestUpdateFrom_FilesystemMode(t *testing.T) {
	srv := imageServer(t)
	u, _ := newUpdater(t)

	if err := u.UpdateFrom(srv.URL+"/fw.bin", node.FlashFilesystem, digest(image)); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(u.FilesystemPath)
	if err != nil || string(got) != string(image) {
		t.Errorf("filesystem image = %q, %v", got, err)
	}
}

func TestUpdateFrom_NoTarget(t *testing.T) {
	u := &Updater{}
	if err := u.UpdateFrom("http://127.0.0.1/fw.bin", node.FlashFirmware, ""); err == nil {
		t.Error("UpdateFrom() without a firmware path succeeded")
	}
}

func TestUpdateFrom_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	u, _ := newUpdater(t)
	if err := u.UpdateFrom(url+"/fw.bin", node.FlashFirmware, ""); err == nil {
		t.Error("UpdateFrom() from closed server succeeded")
	}
}
