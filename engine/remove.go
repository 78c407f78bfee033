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
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/internal/exitcode"
	internallog "github.com/clearlinux/bundle-client/internal/log"
	"github.com/clearlinux/bundle-client/internal/telemetry"
	"github.com/clearlinux/bundle-client/swupd"
)

// RemoveOutcome reports what happened to a single requested bundle name.
type RemoveOutcome int

// The outcomes a name passed to Remove can have.
const (
	Removed RemoveOutcome = iota
	NotInstalled
	RequiredByOther
	// Rejected marks a name the remover refuses to even attempt, such as
	// os-core.
	Rejected
	// RemoveFailed marks a name that was eligible for removal but failed
	// partway through, as distinct from Rejected's up-front refusal.
	RemoveFailed
)

// RemoveResult summarizes a Remove call: per-name outcomes, plus, for any
// name that came back RequiredByOther, the bundles that still need it.
type RemoveResult struct {
	Outcomes map[string]RemoveOutcome
	Blockers map[string][]swupd.RequiredByLine
}

// Remove uninstalls every bundle named in names from the filesystem
// rooted at c.Root. os-core can never be removed; a name still required
// by another installed bundle is left in place and reported as
// RequiredByOther rather than partially removed.
func (c *Context) Remove(names []string) (*RemoveResult, error) {
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

	result := &RemoveResult{
		Outcomes: make(map[string]RemoveOutcome, len(names)),
		Blockers: make(map[string][]swupd.RequiredByLine),
	}

	var toRemove []string
	failed := 0
	for _, name := range names {
		switch {
		case name == OsCore:
			result.Outcomes[name] = Rejected
			failed++
			continue
		case !c.Track.IsInstalled(name):
			result.Outcomes[name] = NotInstalled
			failed++
			continue
		}

		if mom.FileByPath(name) == nil {
			result.Outcomes[name] = NotInstalled
			failed++
			continue
		}

		remaining := cloneSubs(installed)
		delete(remaining, name)
		blockers, rerr := swupd.RequiredBy(name, mom, c.Store, remaining)
		if rerr != nil {
			return nil, exitcode.Tag(exitcode.RequiredBundleError, errors.Wrapf(rerr, "couldn't compute dependents of %q", name))
		}
		if len(blockers) > 0 {
			result.Outcomes[name] = RequiredByOther
			result.Blockers[name] = blockers
			failed++
			continue
		}

		result.Outcomes[name] = Removed
		toRemove = append(toRemove, name)
	}

	if len(toRemove) == 0 {
		if failed > 0 {
			internallog.Warning(internallog.Engine, "failed to remove %d of %d bundle(s)", failed, len(names))
		}
		return result, nil
	}

	removedSucceeded := 0
	for _, name := range toRemove {
		if err = c.removeOne(name, version, mom, installed); err != nil {
			internallog.Warning(internallog.Engine, "couldn't remove %s: %v", name, err)
			result.Outcomes[name] = RemoveFailed
			failed++
			continue
		}
		removedSucceeded++
		delete(installed, name)
	}

	if failed > 0 {
		internallog.Warning(internallog.Engine, "failed to remove %d of %d bundle(s)", failed, len(names))
	}
	internallog.Info(internallog.Engine, "successfully removed %d bundle(s)", removedSucceeded)

	return result, nil
}

// removeOne unlinks every file exclusively owned by name: the files
// listed by name's manifest, minus the files still reachable from every
// other bundle the tracking store lists (installed, from which removeOne
// itself drops name).
func (c *Context) removeOne(name string, version uint32, mom *swupd.Manifest, installed swupd.SubscriptionSet) error {
	entry := mom.FileByPath(name)
	if entry == nil {
		return errors.Errorf("bundle %q not found in manifest-of-manifests", name)
	}

	targetManifest, err := c.Store.LoadManifest(name, entry.LastChange)
	if err != nil {
		return exitcode.Tag(exitcode.CouldntLoadManifest, errors.Wrapf(err, "couldn't load manifest for %q", name))
	}

	remaining := cloneSubs(installed)
	delete(remaining, name)
	remainingManifests, err := swupd.Recurse(remaining, c.Store)
	if err != nil {
		return exitcode.Tag(exitcode.RecurseManifest, errors.Wrap(err, "couldn't load manifests for remaining bundles"))
	}

	targetFiles := swupd.ConsolidateFiles([]*swupd.Manifest{targetManifest})
	target := &swupd.Manifest{Component: name, Files: targetFiles}

	remainingFiles := swupd.ConsolidateFiles(remainingManifests)
	remainingManifest := &swupd.Manifest{Component: "remaining", Files: remainingFiles}

	target.SubtractManifests(remainingManifest)

	if err = c.removeFiles(target.Files); err != nil {
		return exitcode.Tag(exitcode.CouldntRemoveFile, err)
	}

	c.Track.Untrack(name)

	record := telemetry.NewRecord(c.telemetryPath(), name, telemetry.OpRemove, version)
	record.Succeeded = true
	_ = record.Save()

	return nil
}

// removeFiles unlinks every non-deleted entry's path under c.Root,
// deepest paths first so a directory is only removed once everything
// beneath it is already gone.
func (c *Context) removeFiles(files []*swupd.File) error {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.Deleted() {
			continue
		}
		paths = append(paths, f.Path)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var firstErr error
	for _, p := range paths {
		full := filepath.Join(c.Root, p)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			internallog.Warning(internallog.Apply, "couldn't remove %s: %v", full, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
