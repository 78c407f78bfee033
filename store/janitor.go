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
	"strconv"
	"strings"
)

// hashLength is the length of a swupd content hash in its hex string form
// (see swupd.AllZeroHash); staged/ entries shorter or longer than this are
// never ones this engine wrote and are left alone.
const hashLength = len(swupdAllZeroHash)

// swupdAllZeroHash avoids importing swupd just for its length; kept as a
// local literal copy of the same 64-character placeholder so the janitor
// has no dependency beyond its own stat-the-directory-tree job.
const swupdAllZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Janitor reclaims content-addressed cache entries and stale manifests
// from a Store's state directory.
type Janitor struct {
	Store *Store
	// CurrentMoM, when set, is consulted as a deliberately coarse substring
	// test when deciding whether a version directory is still referenced:
	// if the version number appears anywhere in these bytes, the directory
	// is treated as still in use.
	CurrentMoM []byte
}

// Clean reclaims staged fullfiles and stale manifest files. Entries under
// staged/ named by a full-length hash, and top-level pack/delta indicator
// files, are always reclaimed regardless of all. Version directories are
// only fully reclaimed when all is set or the version is not referenced by
// CurrentMoM; otherwise only their hash-qualified manifests are pruned,
// preserving the plain Manifest.<name> form. dryRun reports what would be
// removed without removing it. bundles/ (the tracking store) is never
// touched.
func (j *Janitor) Clean(dryRun, all bool) ([]string, error) {
	var removed []string

	entries, err := ioutil.ReadDir(j.Store.Dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(j.Store.Dir, name)

		switch {
		case name == "bundles":
			continue
		case name == "staged":
			stagedRemoved, serr := j.cleanStaged(path, dryRun)
			if serr != nil {
				return removed, serr
			}
			removed = append(removed, stagedRemoved...)
		case name == "content" || name == "download":
			continue
		case isVersionDir(name):
			dirRemoved, derr := j.cleanVersionDir(path, name, dryRun, all)
			if derr != nil {
				return removed, derr
			}
			removed = append(removed, dirRemoved...)
		case strings.HasPrefix(name, "pack-") && strings.HasSuffix(name, ".tar"):
			if !dryRun {
				if rerr := os.Remove(path); rerr != nil {
					return removed, rerr
				}
			}
			removed = append(removed, path)
		case strings.HasPrefix(name, "Manifest-"):
			if !dryRun {
				if rerr := os.Remove(path); rerr != nil {
					return removed, rerr
				}
			}
			removed = append(removed, path)
		}
	}

	return removed, nil
}

func isVersionDir(name string) bool {
	if name == "" {
		return false
	}
	_, err := strconv.ParseUint(name, 10, 32)
	return err == nil
}

// versionDirReferenced applies the coarse substring test: the version
// number appearing anywhere in CurrentMoM's raw bytes is enough to keep
// the directory's canonical manifests. This is intentionally imprecise (it
// does not parse CurrentMoM as a manifest) to match the reference
// client's own coarse retention check.
func (j *Janitor) versionDirReferenced(version string) bool {
	if len(j.CurrentMoM) == 0 {
		return false
	}
	return strings.Contains(string(j.CurrentMoM), version)
}

// cleanStaged removes every staged/ entry whose name is a full-length
// hash. No other entry (a stray temp file, an unrelated dotfile) is ever
// touched, regardless of all.
func (j *Janitor) cleanStaged(stagedDir string, dryRun bool) ([]string, error) {
	var removed []string

	entries, err := ioutil.ReadDir(stagedDir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if len(name) != hashLength {
			continue
		}
		path := filepath.Join(stagedDir, name)
		if !dryRun {
			if rerr := os.RemoveAll(path); rerr != nil {
				return removed, rerr
			}
		}
		removed = append(removed, path)
	}

	return removed, nil
}

// cleanVersionDir prunes a <state>/<version>/ directory's manifest files.
// With all set, every Manifest.* file is removed. Otherwise, an
// unreferenced version is treated as fully stale and cleared the same way;
// a referenced version only has its hash-qualified manifests
// (Manifest.<name>.<hexhash>) pruned, leaving the plain Manifest.<name>
// form in place. The directory itself is removed with rmdir once empty;
// a non-empty directory is left behind.
func (j *Janitor) cleanVersionDir(dir, version string, dryRun, all bool) ([]string, error) {
	var removed []string

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	referenced := j.versionDirReferenced(version)
	pruneAll := all || !referenced

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "Manifest.") {
			continue
		}
		if !pruneAll && !isHashQualifiedManifest(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if !dryRun {
			if rerr := os.Remove(path); rerr != nil {
				return removed, rerr
			}
		}
		removed = append(removed, path)
	}

	if !dryRun {
		if rerr := os.Remove(dir); rerr == nil {
			removed = append(removed, dir)
		}
	} else {
		// In dry-run, report the directory itself as reclaimable only when
		// every entry in it was a removal candidate (mirrors the rmdir
		// succeeding for real once the listed files are gone).
		allCandidates := true
		for _, entry := range entries {
			n := entry.Name()
			if strings.HasPrefix(n, "Manifest.") && (pruneAll || isHashQualifiedManifest(n)) {
				continue
			}
			allCandidates = false
			break
		}
		if allCandidates {
			removed = append(removed, dir)
		}
	}

	return removed, nil
}

// isHashQualifiedManifest reports whether name is a per-version,
// hash-disambiguated manifest file (Manifest.<bundle>.<hexhash>), as
// opposed to the plain Manifest.<bundle> form, an iterative
// Manifest.<bundle>.I.<v> form, or a delta Manifest.<bundle>.D.<v> form:
// the portion after the "Manifest." prefix must contain exactly one further
// "." and the suffix after it must be entirely hex digits.
func isHashQualifiedManifest(name string) bool {
	const prefix = "Manifest."
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	dot := strings.Index(rest, ".")
	if dot < 0 || strings.Count(rest, ".") != 1 {
		return false
	}
	suffix := rest[dot+1:]
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
