// Copyright 2018 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"archive/tar"
	"bytes"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clearlinux/bundle-client/fetch"
	"github.com/clearlinux/bundle-client/swupd"
)

func mustTempDir(t *testing.T) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "store-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func buildTar(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0644,
			Uid:      os.Getuid(),
			Gid:      os.Getgid(),
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func mustHashFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := swupd.Hashcalc(path)
	if err != nil {
		t.Fatal(err)
	}
	return h.String()
}

func newTestFetcher(t *testing.T, serverURL string) *fetch.Context {
	t.Helper()
	fc := fetch.NewContext(serverURL, serverURL)
	if err := fc.Init(""); err != nil {
		t.Fatal(err)
	}
	return fc
}

// validHeader fills in the fields CheckHeaderIsValid requires beyond
// Format and Version, which is all these tests actually care about.
func validHeader(format uint, version uint32) swupd.ManifestHeader {
	return swupd.ManifestHeader{
		Format:    format,
		Version:   version,
		FileCount: 1,
		TimeStamp: time.Unix(1, 0),
	}
}

// validManifest returns a manifest that parses cleanly: a real manifest
// always has at least one file entry, even a placeholder one, since
// ParseManifest rejects an empty Files list outright.
func validManifest(component string, format uint, version uint32) *swupd.Manifest {
	return &swupd.Manifest{
		Component: component,
		Header:    validHeader(format, version),
		Files: []*swupd.File{
			{Path: "/.manifest-placeholder", Type: swupd.TypeDirectory, LastChange: version},
		},
	}
}

func TestNewCreatesStagedLayout(t *testing.T) {
	dir := mustTempDir(t)
	if _, err := New(dir, "http://example.invalid", nil); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(dir, "staged", "temp")); err != nil || !fi.IsDir() {
		t.Errorf("staged/temp wasn't created: %v", err)
	}
}

func TestStagedPathAndVersionDir(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := s.StagedPath("abc123"), filepath.Join(dir, "staged", "abc123"); got != want {
		t.Errorf("StagedPath = %q, want %q", got, want)
	}
	if got, want := s.VersionDir(42), filepath.Join(dir, "42"); got != want {
		t.Errorf("VersionDir = %q, want %q", got, want)
	}
}

func TestHasContentReflectsStagedCache(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}

	if s.HasContent("deadbeef") {
		t.Error("HasContent true for content never staged")
	}
	if err = ioutil.WriteFile(s.StagedPath("deadbeef"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !s.HasContent("deadbeef") {
		t.Error("HasContent false after writing the staged file directly")
	}
}

func TestGetManifestFetchesWhenNotCached(t *testing.T) {
	dir := mustTempDir(t)

	fetched := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		fetched <- r.URL.Path
		m := validManifest("os-core", 1, 10)
		tmp, err := ioutil.TempFile("", "manifest-")
		if err != nil {
			t.Fatal(err)
		}
		_ = tmp.Close()
		defer func() { _ = os.Remove(tmp.Name()) }()
		if err = m.WriteManifestFile(tmp.Name()); err != nil {
			t.Fatal(err)
		}
		data, err := ioutil.ReadFile(tmp.Name())
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write(data)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetManifest(10, "os-core")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if got.Component != "os-core" {
		t.Errorf("Component = %q, want os-core", got.Component)
	}
	select {
	case <-fetched:
	default:
		t.Error("GetManifest never hit the content server for an uncached manifest")
	}
}

func TestGetManifestReusesLocalCache(t *testing.T) {
	dir := mustTempDir(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		t.Error("fetcher was hit despite a valid local cache entry")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}

	localPath := filepath.Join(s.VersionDir(10), "Manifest.os-core")
	if err = os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		t.Fatal(err)
	}
	m := validManifest("os-core", 1, 10)
	if err = m.WriteManifestFile(localPath); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetManifest(10, "os-core")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if got.Component != "os-core" {
		t.Errorf("Component = %q, want os-core", got.Component)
	}
}

func TestGetManifestNoCacheAlwaysRefetches(t *testing.T) {
	dir := mustTempDir(t)

	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits++
		m := validManifest("os-core", 1, 10)
		var buf bytes.Buffer
		tmp, _ := ioutil.TempFile("", "manifest-")
		_ = m.WriteManifestFile(tmp.Name())
		data, _ := ioutil.ReadFile(tmp.Name())
		_ = os.Remove(tmp.Name())
		buf.Write(data)
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}
	s.NoCache = true

	localPath := filepath.Join(s.VersionDir(10), "Manifest.os-core")
	if err = os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		t.Fatal(err)
	}
	stale := validManifest("os-core", 1, 1)
	if err = stale.WriteManifestFile(localPath); err != nil {
		t.Fatal(err)
	}

	if _, err = s.GetManifest(10, "os-core"); err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if hits == 0 {
		t.Error("NoCache should force a refetch even with a local manifest present")
	}
}

func TestGetFullfileExtractsIntoStagedCache(t *testing.T) {
	dir := mustTempDir(t)
	contentDir := mustTempDir(t)

	content := []byte("fullfile content")
	hash := mustHashFile(t, contentDir, "payload", content)
	tarBytes := buildTar(t, map[string][]byte{"staged/" + hash: content})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.HasSuffix(r.URL.Path, hash+".tar") {
			_, _ = w.Write(tarBytes)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}

	if err = s.GetFullfile(10, hash); err != nil {
		t.Fatalf("GetFullfile failed: %v", err)
	}
	if !s.HasContent(hash) {
		t.Error("content not present in staged cache after GetFullfile")
	}
	got, err := ioutil.ReadFile(s.StagedPath(hash))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("staged content = %q, want %q", got, content)
	}
}

func TestGetFullfileSkipsFetchWhenAlreadyStaged(t *testing.T) {
	dir := mustTempDir(t)
	contentDir := mustTempDir(t)

	content := []byte("already here")
	hash := mustHashFile(t, contentDir, "payload", content)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		t.Error("fetcher was hit for content already present in the staged cache")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}
	if err = ioutil.WriteFile(s.StagedPath(hash), content, 0644); err != nil {
		t.Fatal(err)
	}

	if err = s.GetFullfile(10, hash); err != nil {
		t.Fatalf("GetFullfile failed: %v", err)
	}
}

func TestGetZeroPackExtractsAllStagedEntriesAndWritesMarker(t *testing.T) {
	dir := mustTempDir(t)
	contentDir := mustTempDir(t)

	content1 := []byte("first")
	content2 := []byte("second")
	hash1 := mustHashFile(t, contentDir, "a", content1)
	hash2 := mustHashFile(t, contentDir, "b", content2)
	tarBytes := buildTar(t, map[string][]byte{
		"staged/" + hash1: content1,
		"staged/" + hash2: content2,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.HasSuffix(r.URL.Path, "pack-editors-from-0.tar") {
			_, _ = w.Write(tarBytes)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}

	if err = s.GetZeroPack(10, "editors"); err != nil {
		t.Fatalf("GetZeroPack failed: %v", err)
	}
	if !s.HasContent(hash1) || !s.HasContent(hash2) {
		t.Error("not every staged entry in the pack was extracted")
	}

	markerPath := filepath.Join(dir, "pack-editors-from-0-to-10.tar")
	if _, err = os.Stat(markerPath); err != nil {
		t.Errorf("completion marker wasn't written: %v", err)
	}
}

func TestGetZeroPackSkipsFetchWhenMarkerPresent(t *testing.T) {
	dir := mustTempDir(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		t.Error("fetcher was hit despite an existing completion marker")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fc := newTestFetcher(t, server.URL)
	s, err := New(dir, server.URL, fc)
	if err != nil {
		t.Fatal(err)
	}

	markerPath := filepath.Join(dir, "pack-editors-from-0-to-10.tar")
	if err = ioutil.WriteFile(markerPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	if err = s.GetZeroPack(10, "editors"); err != nil {
		t.Fatalf("GetZeroPack failed: %v", err)
	}
}
