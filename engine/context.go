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

// Package engine implements the bundle lifecycle operations: install,
// remove, and enumeration, built on top of the fetch, store, and tracking
// packages the way the reference client's bundle.c ties its own
// collaborators together.
package engine

import (
	"path/filepath"

	"github.com/clearlinux/bundle-client/fetch"
	"github.com/clearlinux/bundle-client/store"
	"github.com/clearlinux/bundle-client/swupd"
	"github.com/clearlinux/bundle-client/tracking"
)

// OsCore is the distinguished base bundle the remover refuses to remove.
const OsCore = "os-core"

// Context holds everything a single install/remove/list operation needs:
// the target root, the engine's on-disk state, and the collaborators that
// reach the content server and the tracking store. It plays the role the
// reference client fills with its process-wide globals (path_prefix,
// state_dir, the curl handle), bundled into one value per the Design
// Notes' "model these as a single engine context" guidance.
type Context struct {
	// Root is the target filesystem root files are installed into and
	// removed from.
	Root string

	Config  swupd.Config
	Fetcher *fetch.Context
	Store   *store.Store
	Track   *tracking.Store

	// DiskSpaceCheck disables the 4.4 admission check when false
	// (--skip-diskspace-check).
	DiskSpaceCheck bool

	// HookTimeout bounds how long a single post-update hook may run, in
	// seconds. Zero means no timeout.
	HookTimeout int
}

// New builds a Context rooted at root, using cfg for server endpoints and
// local paths. It creates the state directory layout and runs the
// fetcher's trust-anchor probe before returning.
func New(root string, cfg swupd.Config) (*Context, error) {
	fc := fetch.NewContext(cfg.ContentURL, cfg.VersionURL)
	fc.ClientCertPath = cfg.CertPath
	if err := fc.Init(cfg.FallbackCAPaths); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.StateDir, cfg.ContentURL, fc)
	if err != nil {
		return nil, err
	}
	st.MixContentURL = cfg.MixContentURL
	st.AllowMix = cfg.MixContentURL != "" && swupd.Exists(swupd.MixMarkerPath(root))

	return &Context{
		Root:           root,
		Config:         cfg,
		Fetcher:        fc,
		Store:          st,
		Track:          tracking.New(cfg.StateDir, root),
		DiskSpaceCheck: true,
		HookTimeout:    60,
	}, nil
}

// telemetryPath is where the next operation's record gets written,
// overwriting whatever the previous operation left there, the same way
// the mixer tool's mixer.state holds only the latest run's facts.
func (c *Context) telemetryPath() string {
	return filepath.Join(c.Config.StateDir, "telemetry.toml")
}
