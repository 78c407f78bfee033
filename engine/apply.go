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

	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/helpers"
	internallog "github.com/clearlinux/bundle-client/internal/log"
	"github.com/clearlinux/bundle-client/swupd"
)

// packThreshold is the work-set size above which pre-fetching packs is
// worth the extra request; below it, per-file fullfile fetches are
// cheaper than a whole-bundle tar.
const packThreshold = 10

// postUpdateHookDir holds executables run, best-effort, after a successful
// install. Mirrors the reference client's post-update script directory.
const postUpdateHookDir = "usr/lib/swupd/post-update"

// apply runs workSet through Phases P, F, V, S, R and H against subs'
// versions, in that strict order. A failure before Phase R leaves no
// existing file replaced with new content: Phase S only writes .update
// sidecars, creates directories and symlinks under their final names, and
// removes entries whose type changes. A failure during Phase R can leave a
// partial but type-consistent tree, per 4.5's ordering and failure semantics.
func (c *Context) apply(workSet []*swupd.File, subs swupd.SubscriptionSet) error {
	if err := c.fetchPacks(workSet, subs); err != nil {
		internallog.Warning(internallog.Fetch, "pack prefetch failed, falling back to per-file fetch: %v", err)
	}

	if err := c.fetchFullfiles(workSet); err != nil {
		return err
	}

	if err := c.verifyStaged(workSet); err != nil {
		return err
	}

	staged, err := c.stageFiles(workSet)
	if err != nil {
		return err
	}

	if err := renameStaged(staged); err != nil {
		return err
	}

	if err := syncRoot(c.Root); err != nil {
		internallog.Warning(internallog.Apply, "couldn't flush filesystem: %v", err)
	}

	c.runPostUpdateHooks()

	return nil
}

// fetchPacks implements Phase P: a bulk-fetch optimization, skipped when
// the work set is small. Correctness never depends on it succeeding.
func (c *Context) fetchPacks(workSet []*swupd.File, subs swupd.SubscriptionSet) error {
	if len(workSet) <= packThreshold {
		internallog.Debug(internallog.Fetch, "work set has %d entries, skipping pack prefetch", len(workSet))
		return nil
	}
	for _, name := range subs.Names() {
		sub := subs[name]
		if err := c.Store.GetZeroPack(sub.Version, sub.Component); err != nil {
			internallog.Warning(internallog.Fetch, "couldn't fetch pack for %s: %v", sub.Component, err)
		}
	}
	return nil
}

// fetchFullfiles implements Phase F: fetch the content for every regular
// file in the work set not already present in the staged cache. Any
// unrecoverable fetch error here is fatal.
func (c *Context) fetchFullfiles(workSet []*swupd.File) error {
	for _, f := range workSet {
		if f.Type != swupd.TypeFile {
			continue
		}
		hash := f.Hash.String()
		if c.Store.HasContent(hash) {
			continue
		}
		if err := c.Store.GetFullfile(f.LastChange, hash); err != nil {
			return errors.Wrapf(err, "couldn't fetch content for %s", f.Path)
		}
	}
	return nil
}

// verifyStaged implements Phase V: recompute the hash of every staged
// regular file the work set references. A mismatch triggers one
// re-download; a second mismatch after that is fatal.
func (c *Context) verifyStaged(workSet []*swupd.File) error {
	var retry []*swupd.File
	for _, f := range workSet {
		if f.Type != swupd.TypeFile {
			continue
		}
		hash := f.Hash.String()
		staged := c.Store.StagedPath(hash)
		actual, err := swupd.GetHashForFile(staged)
		if err != nil || actual != hash {
			internallog.Warning(internallog.Apply, "hash check failed for %s, redownloading", f.Path)
			_ = os.Remove(staged)
			retry = append(retry, f)
		}
	}

	for _, f := range retry {
		hash := f.Hash.String()
		if err := c.Store.GetFullfile(f.LastChange, hash); err != nil {
			return errors.Wrapf(err, "couldn't redownload content for %s", f.Path)
		}
		staged := c.Store.StagedPath(hash)
		actual, err := swupd.GetHashForFile(staged)
		if err != nil || actual != hash {
			return errors.Errorf("content for %s is still corrupt after redownload", f.Path)
		}
	}
	return nil
}

// stagedRename pairs a Phase S sidecar with the final path Phase R should
// rename it to.
type stagedRename struct {
	sidecar string
	target  string
}

// stageFiles implements Phase S: materialize every work-set entry that is
// neither deleted, do-not-update, nor ignored. Regular files are copied to
// a ".update" sidecar for Phase R to rename; directories and symlinks are
// created directly under their final name, since a single Mkdir/Symlink
// syscall is already atomic and needs no staging step.
func (c *Context) stageFiles(workSet []*swupd.File) ([]stagedRename, error) {
	var staged []stagedRename

	for _, f := range workSet {
		if f.Deleted() || f.DoNotUpdate || f.Ignore {
			continue
		}

		target := filepath.Join(c.Root, f.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return staged, errors.Wrapf(err, "couldn't create parent directory for %s", target)
		}

		if err := removeTypeConflict(target, f.Type); err != nil {
			return staged, err
		}

		switch f.Type {
		case swupd.TypeDirectory:
			if err := os.MkdirAll(target, 0755); err != nil {
				return staged, errors.Wrapf(err, "couldn't create directory %s", target)
			}
		case swupd.TypeLink:
			stagedPath := c.Store.StagedPath(f.Hash.String())
			linkTarget, err := os.Readlink(stagedPath)
			if err != nil {
				return staged, errors.Wrapf(err, "couldn't read staged symlink for %s", f.Path)
			}
			_ = os.Remove(target)
			if err = os.Symlink(linkTarget, target); err != nil {
				return staged, errors.Wrapf(err, "couldn't create symlink %s", target)
			}
		case swupd.TypeFile:
			stagedPath := c.Store.StagedPath(f.Hash.String())
			sidecar := target + ".update"
			if err := helpers.CopyFileWithOptions(sidecar, stagedPath, true, true, true); err != nil {
				return staged, errors.Wrapf(err, "couldn't stage %s", target)
			}
			staged = append(staged, stagedRename{sidecar: sidecar, target: target})
		default:
			return staged, errors.Errorf("file %q has unsupported type for staging", f.Path)
		}
	}

	return staged, nil
}

// removeTypeConflict unlinks whatever currently occupies target when its
// type does not match want, per the unlink-then-create discipline chosen
// for the File-typed-polymorphism open question.
func removeTypeConflict(target string, want swupd.Type) error {
	fi, err := os.Lstat(target)
	if err != nil {
		return nil
	}
	have, err := classifyExisting(fi)
	if err == nil && have == want {
		return nil
	}
	if err := os.RemoveAll(target); err != nil {
		return errors.Wrapf(err, "couldn't remove existing %s before replacing it", target)
	}
	return nil
}

func classifyExisting(fi os.FileInfo) (swupd.Type, error) {
	return swupd.ClassifyType(fi)
}

// renameStaged implements Phase R: atomically promote every sidecar
// staged in Phase S to its final path. Rename order is the work set's
// iteration order, sorted by path, so parent directories already exist by
// the time their children need them.
func renameStaged(staged []stagedRename) error {
	for _, s := range staged {
		if err := os.Rename(s.sidecar, s.target); err != nil {
			return errors.Wrapf(err, "couldn't promote %s to %s", s.sidecar, s.target)
		}
	}
	return nil
}

// syncRoot issues a filesystem flush after Phase R by fsyncing root's
// directory entry, the idiomatic Go equivalent of the reference client's
// blocking sync() call.
func syncRoot(root string) error {
	f, err := os.Open(root)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return f.Sync()
}

// runPostUpdateHooks runs every executable under postUpdateHookDir,
// non-fatally: a failing or missing hook never fails the enclosing
// install.
func (c *Context) runPostUpdateHooks() {
	dir := filepath.Join(c.Root, postUpdateHookDir)
	names, err := helpers.ListVisibleFiles(dir)
	if err != nil {
		return
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := helpers.RunCommandTimeout(c.HookTimeout, path); err != nil {
			internallog.Warning(internallog.Apply, "post-update hook %s failed: %v", path, err)
		}
	}
}
