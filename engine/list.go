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
	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/swupd"
)

// BundleInfo is one row of a bundle listing: its name and whether the
// current manifest-of-manifests marks it experimental.
type BundleInfo struct {
	Name         string
	Experimental bool
}

// ListInstalled returns every bundle with a tracking marker. When the
// current MoM is available it cross-references each name to report its
// experimental flag; if the current version can't be determined or the
// MoM can't be fetched, the listing still succeeds with Experimental left
// false for every entry, matching the reference tool's graceful
// degradation when run offline.
func (c *Context) ListInstalled() ([]BundleInfo, error) {
	subs, err := c.Track.Installed()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read tracking directory")
	}

	var mom *swupd.Manifest
	if version, verr := CurrentVersion(c.Root); verr == nil {
		mom, _ = c.Store.GetMoM(version)
	}

	names := subs.Names()
	result := make([]BundleInfo, 0, len(names))
	for _, name := range names {
		info := BundleInfo{Name: name}
		if mom != nil {
			if entry := mom.FileByPath(name); entry != nil {
				info.Experimental = entry.Experimental
			}
		}
		result = append(result, info)
	}
	return result, nil
}

// ListInstallable returns every bundle named in the current
// manifest-of-manifests, installed or not.
func (c *Context) ListInstallable() ([]BundleInfo, error) {
	version, err := CurrentVersion(c.Root)
	if err != nil {
		return nil, err
	}
	mom, err := c.Store.GetMoM(version)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load manifest-of-manifests")
	}

	result := make([]BundleInfo, 0, len(mom.Files))
	for _, f := range mom.Files {
		if f.Deleted() {
			continue
		}
		result = append(result, BundleInfo{Name: f.Path, Experimental: f.Experimental})
	}
	return result, nil
}

// ShowIncludedBundles renders the include tree of a single installable
// bundle, independent of whether it (or anything it includes) is
// currently installed.
func (c *Context) ShowIncludedBundles(name string) ([]swupd.RequiredByLine, error) {
	version, err := CurrentVersion(c.Root)
	if err != nil {
		return nil, err
	}
	mom, err := c.Store.GetMoM(version)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load manifest-of-manifests")
	}
	return swupd.ShowIncludedBundles(name, mom, c.Store)
}

// ShowBundleRequiredBy renders every installed bundle that depends,
// directly or transitively, on name.
func (c *Context) ShowBundleRequiredBy(name string) ([]swupd.RequiredByLine, error) {
	version, err := CurrentVersion(c.Root)
	if err != nil {
		return nil, err
	}
	mom, err := c.Store.GetMoM(version)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load manifest-of-manifests")
	}
	installed, err := c.installedSubs(mom)
	if err != nil {
		return nil, err
	}
	return swupd.RequiredBy(name, mom, c.Store, installed)
}
