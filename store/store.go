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

// Package store manages the engine's on-disk state directory: the
// content-addressed "staged" cache, downloaded manifests, and expanded
// packs, plus the janitor that reclaims space from it.
package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/fetch"
	"github.com/clearlinux/bundle-client/swupd"
)

// Store manages <StateDir>/staged, <StateDir>/<version>, and the marker
// files the janitor uses to decide what is safe to remove.
type Store struct {
	Dir        string
	ContentURL string
	Fetcher    *fetch.Context
	NoCache    bool

	// MixContentURL, when non-empty and AllowMix is set, names a local
	// overlay tree consulted for the MoM before the official ContentURL.
	MixContentURL string
	AllowMix      bool
}

// New prepares the state directory layout (staged/, staged/temp/) and
// returns a Store rooted at dir.
func New(dir, contentURL string, fetcher *fetch.Context) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "staged", "temp"), 0755); err != nil {
		return nil, errors.Wrapf(err, "couldn't create state directory %s", dir)
	}
	return &Store{Dir: dir, ContentURL: contentURL, Fetcher: fetcher}, nil
}

// StagedPath returns the content-addressed cache path for hash.
func (s *Store) StagedPath(hash string) string {
	return filepath.Join(s.Dir, "staged", hash)
}

// VersionDir returns the per-version directory under the state dir.
func (s *Store) VersionDir(version uint32) string {
	return filepath.Join(s.Dir, strconv.FormatUint(uint64(version), 10))
}

func (s *Store) versionURL(version uint32, elem ...string) string {
	return versionURLFrom(s.ContentURL, version, elem...)
}

func versionURLFrom(contentURL string, version uint32, elem ...string) string {
	parts := append([]string{contentURL, strconv.FormatUint(uint64(version), 10)}, elem...)
	return strings.Join(parts, "/")
}

// GetMoM downloads (or reuses the cached copy of) the manifest-of-manifests
// for version. When AllowMix is set and MixContentURL names a reachable
// overlay, the locally-mixed MoM is preferred over the official one; a
// mix fetch failure falls back to the official MoM rather than failing
// the whole operation, since a system that merely carries mix capability
// should not lose official updates when its overlay copy is stale or gone.
func (s *Store) GetMoM(version uint32) (*swupd.Manifest, error) {
	if s.AllowMix && s.MixContentURL != "" {
		mixPath := filepath.Join(s.VersionDir(version), "Manifest.MoM.mix")
		if m, err := s.fetchManifest(version, swupd.MoMName, s.MixContentURL, mixPath); err == nil {
			return m, nil
		}
	}
	return s.GetManifest(version, swupd.MoMName)
}

// GetManifest downloads (or reuses the cached copy of) the manifest for
// component at version. Implements swupd.ManifestLoader.
func (s *Store) GetManifest(version uint32, component string) (*swupd.Manifest, error) {
	localPath := filepath.Join(s.VersionDir(version), "Manifest."+component)
	return s.fetchManifest(version, component, s.ContentURL, localPath)
}

// fetchManifest downloads (or reuses the cached copy at localPath of)
// Manifest.<component> at version from contentURL.
func (s *Store) fetchManifest(version uint32, component, contentURL, localPath string) (*swupd.Manifest, error) {
	if s.NoCache || !swupd.Exists(localPath) {
		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return nil, err
		}
		url := versionURLFrom(contentURL, version, "Manifest."+component)
		if err := s.Fetcher.FetchWithRetry(url, localPath, false); err != nil {
			return nil, errors.Wrapf(err, "couldn't fetch manifest %s at version %d", component, version)
		}
	}
	m, err := swupd.ParseManifestFile(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't parse manifest %s", localPath)
	}
	return m, nil
}

// LoadManifest adapts GetManifest to swupd.ManifestLoader.
func (s *Store) LoadManifest(component string, version uint32) (*swupd.Manifest, error) {
	return s.GetManifest(version, component)
}

// HasContent reports whether hash is already present in the staged cache.
func (s *Store) HasContent(hash string) bool {
	return swupd.Exists(s.StagedPath(hash))
}

// GetFullfile ensures the content for hash at version is present in the
// staged cache, downloading and extracting the fullfile tarball if not.
func (s *Store) GetFullfile(version uint32, hash string) error {
	if s.HasContent(hash) {
		return nil
	}

	tarredPath := filepath.Join(s.VersionDir(version), "files", hash+".tar")
	if err := os.MkdirAll(filepath.Dir(tarredPath), 0755); err != nil {
		return err
	}
	url := s.versionURL(version, "files", hash+".tar")
	if err := s.Fetcher.FetchWithRetry(url, tarredPath, false); err != nil {
		return errors.Wrapf(err, "couldn't fetch fullfile %s", hash)
	}

	tarred, err := os.Open(tarredPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = tarred.Close()
	}()

	tr, err := swupd.NewCompressedTarReader(tarred)
	if err != nil {
		return err
	}
	defer func() {
		_ = tr.Close()
	}()

	hdr, err := tr.Next()
	if err != nil {
		return err
	}
	if err = s.extractStaged(hdr, tr); err != nil {
		return err
	}

	if hdr, err = tr.Next(); err == nil {
		fmt.Fprintf(os.Stderr, "! ignoring unexpected extra content in %s: %s\n", tarredPath, hdr.Name)
	}

	return nil
}

// GetZeroPack downloads and expands the from-0 pack for component at
// version, placing every file it contains into the staged cache, and
// writes a zero-byte completion marker so a later call is a no-op.
func (s *Store) GetZeroPack(version uint32, component string) error {
	markerPath := filepath.Join(s.Dir, fmt.Sprintf("pack-%s-from-0-to-%d.tar", component, version))
	if !s.NoCache && swupd.Exists(markerPath) {
		return nil
	}

	packPath := filepath.Join(s.VersionDir(version), fmt.Sprintf("pack-%s-from-0.tar", component))
	if err := os.MkdirAll(filepath.Dir(packPath), 0755); err != nil {
		return err
	}
	url := s.versionURL(version, fmt.Sprintf("pack-%s-from-0.tar", component))
	if err := s.Fetcher.FetchWithRetry(url, packPath, false); err != nil {
		return errors.Wrapf(err, "couldn't fetch pack for %s", component)
	}

	f, err := os.Open(packPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	tr, err := swupd.NewCompressedTarReader(f)
	if err != nil {
		return err
	}
	defer func() {
		_ = tr.Close()
	}()

	for {
		hdr, terr := tr.Next()
		if terr != nil {
			break
		}
		if !strings.HasPrefix(hdr.Name, "staged/") || hdr.Name == "staged/" {
			continue
		}
		if err = s.extractStaged(hdr, tr); err != nil {
			return err
		}
	}

	return ioutil.WriteFile(markerPath, nil, 0600)
}
