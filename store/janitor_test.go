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
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestIsHashQualifiedManifest(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Manifest.os-core", false},
		{"Manifest.os-core." + swupdAllZeroHash, true},
		{"Manifest.os-core.I.10", false},
		{"Manifest.os-core.D.10", false},
		{"Manifest.os-core.", false},
		{"Manifest.MoM", false},
		{"not-a-manifest", false},
	}
	for _, tc := range cases {
		if got := isHashQualifiedManifest(tc.name); got != tc.want {
			t.Errorf("isHashQualifiedManifest(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsVersionDir(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"10", true},
		{"0", true},
		{"staged", false},
		{"bundles", false},
		{"", false},
		{"10a", false},
	}
	for _, tc := range cases {
		if got := isVersionDir(tc.name); got != tc.want {
			t.Errorf("isVersionDir(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func touchFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCleanStagedRemovesOnlyFullLengthHashes(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}

	hashName := swupdAllZeroHash
	touchFile(t, filepath.Join(dir, "staged", hashName))
	touchFile(t, filepath.Join(dir, "staged", "temp", "in-progress"))
	touchFile(t, filepath.Join(dir, "staged", "short"))

	j := &Janitor{Store: s}
	removed, err := j.Clean(false, true)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}

	if _, err = os.Stat(filepath.Join(dir, "staged", hashName)); !os.IsNotExist(err) {
		t.Error("full-length hash entry should have been removed")
	}
	if _, err = os.Stat(filepath.Join(dir, "staged", "short")); err != nil {
		t.Error("short-named staged entry should have been left alone")
	}

	found := false
	for _, r := range removed {
		if r == filepath.Join(dir, "staged", hashName) {
			found = true
		}
	}
	if !found {
		t.Errorf("removed = %v, want it to include the hash entry", removed)
	}
}

func TestCleanDryRunRemovesNothing(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}

	hashName := swupdAllZeroHash
	touchFile(t, filepath.Join(dir, "staged", hashName))

	j := &Janitor{Store: s}
	removed, err := j.Clean(true, true)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("len(removed) = %d, want 1", len(removed))
	}
	if _, err = os.Stat(filepath.Join(dir, "staged", hashName)); err != nil {
		t.Error("dry run should not have removed the hash entry")
	}
}

func TestCleanNeverTouchesBundlesDir(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	touchFile(t, filepath.Join(dir, "bundles", "os-core"))

	j := &Janitor{Store: s}
	if _, err = j.Clean(false, true); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "bundles", "os-core")); err != nil {
		t.Error("bundles/ tracking marker was removed by Clean")
	}
}

func TestCleanRemovesPackAndLooseManifestFiles(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	touchFile(t, filepath.Join(dir, "pack-editors-from-0-to-10.tar"))
	touchFile(t, filepath.Join(dir, "Manifest-stray"))

	j := &Janitor{Store: s}
	removed, err := j.Clean(false, true)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	sort.Strings(removed)

	if _, err = os.Stat(filepath.Join(dir, "pack-editors-from-0-to-10.tar")); !os.IsNotExist(err) {
		t.Error("stale pack file should have been removed")
	}
	if _, err = os.Stat(filepath.Join(dir, "Manifest-stray")); !os.IsNotExist(err) {
		t.Error("stray top-level manifest file should have been removed")
	}
}

func TestCleanVersionDirUnreferencedRemovesAllManifestsAndDir(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	touchFile(t, filepath.Join(dir, "10", "Manifest.os-core"))
	touchFile(t, filepath.Join(dir, "10", "Manifest.os-core."+swupdAllZeroHash))

	j := &Janitor{Store: s}
	if _, err = j.Clean(false, false); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "10")); !os.IsNotExist(err) {
		t.Error("unreferenced version directory should have been fully removed")
	}
}

func TestCleanVersionDirReferencedPreservesPlainManifests(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	touchFile(t, filepath.Join(dir, "10", "Manifest.os-core"))
	touchFile(t, filepath.Join(dir, "10", "Manifest.os-core."+swupdAllZeroHash))

	j := &Janitor{Store: s, CurrentMoM: []byte("... references version 10 somewhere ...")}
	if _, err = j.Clean(false, false); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "10", "Manifest.os-core")); err != nil {
		t.Error("plain manifest for a referenced version should have been kept")
	}
	if _, err = os.Stat(filepath.Join(dir, "10", "Manifest.os-core."+swupdAllZeroHash)); !os.IsNotExist(err) {
		t.Error("hash-qualified manifest should have been pruned even for a referenced version")
	}
}

func TestCleanVersionDirAllFlagOverridesReference(t *testing.T) {
	dir := mustTempDir(t)
	s, err := New(dir, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	touchFile(t, filepath.Join(dir, "10", "Manifest.os-core"))

	j := &Janitor{Store: s, CurrentMoM: []byte("version 10")}
	if _, err = j.Clean(false, true); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "10")); !os.IsNotExist(err) {
		t.Error("all=true should reclaim a version directory even when referenced")
	}
}
