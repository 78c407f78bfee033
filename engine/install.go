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

	"github.com/clearlinux/bundle-client/internal/exitcode"
	internallog "github.com/clearlinux/bundle-client/internal/log"
	"github.com/clearlinux/bundle-client/internal/telemetry"
	"github.com/clearlinux/bundle-client/swupd"
)

// InstallOutcome reports what happened to a single requested bundle name.
type InstallOutcome int

// The outcomes a name passed to Install can have.
const (
	Installed InstallOutcome = iota
	AlreadyInstalled
	UnknownBundle
)

// InstallResult summarizes an Install call.
type InstallResult struct {
	Outcomes map[string]InstallOutcome
	Version  uint32
}

// Install brings every bundle named in names, and everything each
// transitively includes, onto the filesystem rooted at c.Root. A name
// absent from the manifest-of-manifests is reported as UnknownBundle
// and does not block the rest of names from installing.
func (c *Context) Install(names []string) (*InstallResult, error) {
	version, err := CurrentVersion(c.Root)
	if err != nil {
		return nil, err
	}

	mom, err := c.Store.GetMoM(version)
	if err != nil {
		return nil, exitcode.Tag(exitcode.CouldntLoadMoM, errors.Wrap(err, "couldn't load manifest-of-manifests"))
	}

	installed, err := c.installedSubs(mom)
	if err != nil {
		return nil, err
	}

	toInstall := cloneSubs(installed)
	rawOutcomes, err := swupd.AddSubscriptions(names, toInstall, mom, c.Store)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't resolve requested bundles")
	}

	result := &InstallResult{Outcomes: make(map[string]InstallOutcome, len(names)), Version: version}
	anyNew := false
	for _, name := range names {
		switch rawOutcomes[name] {
		case swupd.BadName:
			result.Outcomes[name] = UnknownBundle
		case swupd.AlreadySubscribed:
			result.Outcomes[name] = AlreadyInstalled
		case swupd.Added:
			result.Outcomes[name] = Installed
			anyNew = true
		}
	}

	if !anyNew {
		internallog.Info(internallog.Engine, "no new bundles to install")
		return result, nil
	}

	toInstallManifests, err := swupd.Recurse(toInstall, c.Store)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load manifests for bundles to install")
	}
	installedManifests, err := swupd.Recurse(installed, c.Store)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't load manifests for already-installed bundles")
	}

	if c.DiskSpaceCheck {
		var bundleSize uint64
		for _, m := range toInstallManifests {
			bundleSize += m.Header.ContentSize
		}
		if err = checkDiskSpace(c.Root, bundleSize); err != nil {
			return nil, err
		}
	}

	toInstallFiles := swupd.ConsolidateFiles(toInstallManifests)
	installedFiles := swupd.ConsolidateFiles(installedManifests)
	work := c.workSet(toInstallFiles, installedFiles)

	record := telemetry.NewRecord(c.telemetryPath(), "", telemetry.OpInstall, version)
	if err = c.apply(work, toInstall); err != nil {
		record.Error = err.Error()
		record.Succeeded = false
		_ = record.Save()
		return nil, err
	}
	record.Succeeded = true
	record.BytesTransferred = c.Fetcher.TotalBytes()
	_ = record.Save()

	for _, name := range toInstall.Names() {
		c.Track.Track(name)
	}

	installedCount := 0
	for _, outcome := range result.Outcomes {
		if outcome == Installed {
			installedCount++
		}
	}
	internallog.Info(internallog.Engine, "successfully installed %d bundle(s)", installedCount)
	return result, nil
}

// installedSubs returns the set of currently tracked bundles, with each
// entry's Version filled in from mom: the tracking store only remembers
// names, so any recursion over it needs the version backfilled first.
func (c *Context) installedSubs(mom *swupd.Manifest) (swupd.SubscriptionSet, error) {
	tracked, err := c.Track.Installed()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read tracking directory")
	}

	subs := swupd.NewSubscriptionSet()
	for name := range tracked {
		entry := mom.FileByPath(name)
		if entry == nil {
			// A tracked bundle no longer listed in the current MoM: carry
			// it forward at version 0 so Recurse's loader still tries the
			// local cache rather than silently dropping it from the set.
			subs[name] = swupd.Subscription{Component: name}
			continue
		}
		subs[name] = swupd.Subscription{Component: name, Version: entry.LastChange}
	}
	return subs, nil
}

func cloneSubs(subs swupd.SubscriptionSet) swupd.SubscriptionSet {
	clone := swupd.NewSubscriptionSet()
	for k, v := range subs {
		clone[k] = v
	}
	return clone
}

// workSet returns the files install must actually fetch and stage: every
// entry of toInstall not already present at the same path with the same
// hash in installed, and never a tombstone (those exist in a manifest only
// to tell older clients to delete a path, which is meaningless on a path
// that was never present to begin with).
func (c *Context) workSet(toInstall, installed []*swupd.File) []*swupd.File {
	byPath := make(map[string]*swupd.File, len(installed))
	for _, f := range installed {
		byPath[f.Path] = f
	}

	work := make([]*swupd.File, 0, len(toInstall))
	for _, f := range toInstall {
		if f.Deleted() {
			continue
		}
		if existing, ok := byPath[f.Path]; ok && existing.Hash == f.Hash {
			continue
		}
		work = append(work, f)
	}
	return work
}
