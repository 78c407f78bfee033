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

package engine

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearlinux/bundle-client/swupd"
)

// mustWriteManifest writes a valid manifest file at path for use as a
// pre-seeded local cache entry, so tests never need to exercise the
// fetcher just to obtain a manifest.
func mustWriteManifest(t *testing.T, path, component string, version uint32, includes []string, files []*swupd.File) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	// ContentSize only feeds the disk-space admission estimate in these
	// tests; a small placeholder keeps it comfortably under any real
	// filesystem's free space.
	size := uint64(len(files))

	// ParseManifest rejects a manifest with no file entries at all, so a
	// test that only cares about Includes still needs a placeholder.
	if len(files) == 0 {
		files = []*swupd.File{
			{Path: "/.manifest-placeholder", Type: swupd.TypeDirectory, LastChange: version},
		}
	}
	fileCount := uint32(len(files))

	m := &swupd.Manifest{
		Component: component,
		Header: swupd.ManifestHeader{
			Format:      1,
			Version:     version,
			Previous:    0,
			FileCount:   fileCount,
			TimeStamp:   time.Unix(1, 0),
			ContentSize: size,
		},
		Includes: includes,
		Files:    files,
	}

	if err := m.WriteManifestFile(path); err != nil {
		t.Fatal(err)
	}
}

// mustHashFile writes content to a freshly created file under dir and
// returns the swupd content hash for it, the same hash a manifest entry
// for that content would carry.
func mustHashFile(t *testing.T, dir, name string, content []byte) (swupd.Hashval, string) {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := swupd.Hashcalc(path)
	if err != nil {
		t.Fatal(err)
	}
	return h, h.String()
}
