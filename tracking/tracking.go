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

// Package tracking implements the manually-installed bundle marker store:
// a directory of zero-byte files, one per manually-tracked bundle.
package tracking

import (
	"os"
	"path/filepath"

	"github.com/clearlinux/bundle-client/helpers"
	"github.com/clearlinux/bundle-client/swupd"
)

// Store is the tracking directory under the engine's state directory,
// plus the vendor seed directory used to bootstrap it on first use.
type Store struct {
	// Dir is <state>/bundles.
	Dir string
	// VendorSeed is <root>/usr/share/clear/bundles, copied into Dir the
	// first time the tracking directory is found empty or missing.
	VendorSeed string
}

// New returns a Store for the given state directory and system root.
func New(stateDir, root string) *Store {
	return &Store{
		Dir:        filepath.Join(stateDir, "bundles"),
		VendorSeed: filepath.Join(root, "usr", "share", "clear", "bundles"),
	}
}

// Track marks bundle as manually installed. If the tracking directory has
// never been used, it is first bootstrapped from VendorSeed so that
// bundles installed before this engine ever ran are not silently
// forgotten. Like the reference implementation, failures here are not
// surfaced as errors: whatever state the tracking directory ends up in
// must be handled gracefully by every other tracking operation.
func (s *Store) Track(bundle string) {
	if !helpers.IsPopulatedDir(s.Dir) {
		_ = os.RemoveAll(s.Dir)
		if helpers.Exists(s.VendorSeed) {
			if err := helpers.CopyAll(s.Dir, s.VendorSeed); err == nil {
				_ = os.Remove(filepath.Join(s.Dir, ".MoM"))
				_ = os.Chmod(s.Dir, 0700)
			}
		}
	}

	_ = os.MkdirAll(s.Dir, 0700)
	f, err := os.OpenFile(filepath.Join(s.Dir, bundle), os.O_RDWR|os.O_CREATE, 0600)
	if err == nil {
		_ = f.Close()
	}
}

// Untrack removes bundle's tracking marker, if present. Best-effort, same
// as Track.
func (s *Store) Untrack(bundle string) {
	_ = os.Remove(filepath.Join(s.Dir, bundle))
}

// IsInstalled reports whether bundle has a tracking marker.
func (s *Store) IsInstalled(bundle string) bool {
	return swupd.Exists(filepath.Join(s.Dir, bundle))
}

// Installed returns the set of manually-tracked bundle names.
func (s *Store) Installed() (swupd.SubscriptionSet, error) {
	subs := swupd.NewSubscriptionSet()
	if !helpers.Exists(s.Dir) {
		return subs, nil
	}
	names, err := helpers.ListVisibleFiles(s.Dir)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		subs[n] = swupd.Subscription{Component: n}
	}
	return subs, nil
}
