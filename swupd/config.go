// Copyright 2017 Intel Corporation
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

package swupd

import (
	"path/filepath"
	"strconv"

	"github.com/go-ini/ini"
)

// StateDir is the directory under which the engine keeps its cache,
// tracking store, and telemetry records. Defaults to /var/lib/swupd
// unless overridden by update.ini or the caller.
var StateDir = "/var/lib/swupd"

// Config holds the engine's runtime configuration, read from
// <root>/usr/share/defaults/swupd/update.ini with each key optional and
// defaulting as documented below.
type Config struct {
	ContentURL      string
	VersionURL      string
	Format          string
	CertPath        string
	FallbackCAPaths string
	StateDir        string

	// MixContentURL, when set, is the local overlay tree consulted for
	// the MoM before ContentURL. Its presence is the OS's opt-in to mix;
	// MixMarkerPath's presence is the system-wide declaration that the
	// overlay actually exists.
	MixContentURL string
}

// MixMarkerFile is the name of the system-wide file whose presence
// declares that the running image was composed with local content mixed
// into the official manifest tree.
const MixMarkerFile = "mixer-initialized"

// MixMarkerPath returns the path, under the filesystem rooted at root,
// that the mix marker lives at, alongside update.ini's own directory.
func MixMarkerPath(root string) string {
	return filepath.Join(root, "usr", "share", "defaults", "swupd", MixMarkerFile)
}

// DefaultConfig returns the built-in defaults, used when update.ini is
// absent or a given key is not present in it.
func DefaultConfig() Config {
	return Config{
		ContentURL: "https://cdn.download.clearlinux.org/update",
		VersionURL: "https://cdn.download.clearlinux.org/update",
		Format:     "staging",
		CertPath:   "/etc/swupd/client.pem",
		StateDir:   StateDir,
	}
}

// ReadUpdateINI reads path, overriding only the keys actually present;
// any key absent from the file, or the file itself being absent or
// unreadable, falls back to DefaultConfig. Mirrors the teacher's
// defaults-first, override-only-what's-present server.ini reader.
func ReadUpdateINI(path string) Config {
	cfg := DefaultConfig()

	if !Exists(path) {
		return cfg
	}

	f, err := ini.InsensitiveLoad(path)
	if err != nil {
		return cfg
	}

	section := f.Section("Server")
	if key, err := section.GetKey("contenturl"); err == nil {
		cfg.ContentURL = key.Value()
	}
	if key, err := section.GetKey("versionurl"); err == nil {
		cfg.VersionURL = key.Value()
	}
	if key, err := section.GetKey("format"); err == nil {
		cfg.Format = key.Value()
	}
	if key, err := section.GetKey("certpath"); err == nil {
		cfg.CertPath = key.Value()
	}
	if key, err := section.GetKey("fallback_capaths"); err == nil {
		cfg.FallbackCAPaths = key.Value()
	}
	if key, err := section.GetKey("statedir"); err == nil {
		cfg.StateDir = key.Value()
	}
	if key, err := section.GetKey("mixcontenturl"); err == nil {
		cfg.MixContentURL = key.Value()
	}

	return cfg
}

// StagedPath returns the path to the content-addressed cache entry for hash
// within the engine's state directory.
func (c Config) StagedPath(hash string) string {
	return filepath.Join(c.StateDir, "staged", hash)
}

// VersionPath returns the per-version cache directory (holds downloaded
// manifests for that version).
func (c Config) VersionPath(version uint32) string {
	return filepath.Join(c.StateDir, strconv.FormatUint(uint64(version), 10))
}
