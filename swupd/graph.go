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

package swupd

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// ManifestLoader loads a bundle's manifest at a given version. Kept as an
// interface so the graph traversal logic here has no dependency on how a
// manifest is actually fetched or cached.
type ManifestLoader interface {
	LoadManifest(component string, version uint32) (*Manifest, error)
}

// Subscription is a single component-at-version edge in the install set.
type Subscription struct {
	Component string
	Version   uint32
}

// SubscriptionSet is a set of subscriptions unique by component name.
type SubscriptionSet map[string]Subscription

// NewSubscriptionSet returns an empty subscription set.
func NewSubscriptionSet() SubscriptionSet {
	return make(SubscriptionSet)
}

// Names returns the subscribed component names, sorted.
func (s SubscriptionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddOutcome reports what AddSubscriptions did for a requested name.
type AddOutcome int

// Outcomes for a single name passed to AddSubscriptions.
const (
	Added AddOutcome = iota
	AlreadySubscribed
	BadName
)

// AddSubscriptions adds the given bundle names (and everything they
// include, transitively) to subs. A name in names that is absent from
// mom is never fatal to the call: it is recorded as BadName and the rest
// of names is still processed, so one typo in a batch doesn't block the
// bundles that do resolve. An include reached by recursion is subscribed
// even when it is absent from mom (at version 0) or its manifest cannot
// be loaded; neither case is an error, and only names gets outcomes.
func AddSubscriptions(names []string, subs SubscriptionSet, mom *Manifest, loader ManifestLoader) (map[string]AddOutcome, error) {
	outcomes := make(map[string]AddOutcome, len(names))
	for _, name := range names {
		entry := mom.FileByPath(name)
		if entry == nil {
			outcomes[name] = BadName
			continue
		}
		outcome, err := addSubscription(name, entry.LastChange, subs, mom, loader, 0)
		if err != nil {
			return nil, err
		}
		outcomes[name] = outcome
	}
	return outcomes, nil
}

func addSubscription(name string, version uint32, subs SubscriptionSet, mom *Manifest, loader ManifestLoader, depth int) (AddOutcome, error) {
	if existing, ok := subs[name]; ok {
		if existing.Version >= version {
			return AlreadySubscribed, nil
		}
	}

	subs[name] = Subscription{Component: name, Version: version}

	m, err := loader.LoadManifest(name, version)
	if err != nil {
		if depth > 0 {
			// A submanifest unreachable from a deeper include is not
			// fatal: the MoM is the source of truth for top-level names.
			return Added, nil
		}
		return Added, errors.Wrapf(err, "couldn't load manifest for bundle %q", name)
	}

	for _, included := range m.Includes {
		if _, err = addSubscription(included, manifestVersion(mom, included), subs, mom, loader, depth+1); err != nil {
			return Added, err
		}
	}

	return Added, nil
}

func manifestVersion(mom *Manifest, component string) uint32 {
	if f := mom.FileByPath(component); f != nil {
		return f.LastChange
	}
	return 0
}

// Recurse loads every manifest named by subs and returns them, sorted by
// component name, visiting each component at most once even if reachable
// through multiple include paths.
func Recurse(subs SubscriptionSet, loader ManifestLoader) ([]*Manifest, error) {
	names := subs.Names()
	manifests := make([]*Manifest, 0, len(names))
	for _, name := range names {
		sub := subs[name]
		m, err := loader.LoadManifest(sub.Component, sub.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't load manifest for bundle %q", name)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// ConsolidateFiles merges the file lists of the given manifests into one
// sorted, deduplicated list. When more than one manifest lists the same
// path, the entry with the greatest LastChange wins (it reflects the most
// recent state of that path across whatever bundle last changed it).
// Tombstone entries (deleted files) participate in this merge like any
// other entry, so a delete recorded by one bundle is not masked by an
// older, still-present entry from another.
func ConsolidateFiles(manifests []*Manifest) []*File {
	byPath := make(map[string]*File)
	for _, m := range manifests {
		for _, f := range m.Files {
			existing, ok := byPath[f.Path]
			if !ok || f.LastChange > existing.LastChange {
				byPath[f.Path] = f
			}
		}
	}

	result := make([]*File, 0, len(byPath))
	for _, f := range byPath {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result
}

// RequiredByLine is one rendered line of a required-by or included-bundles
// tree: the bundle name at a given nesting depth.
type RequiredByLine struct {
	Name  string
	Depth int
}

// String renders a line the way the reference tool does: "* name" at
// depth 1, "|-- name" indented by (depth-1)*4 spaces at deeper levels.
func (l RequiredByLine) String() string {
	if l.Depth <= 1 {
		return fmt.Sprintf("* %s", l.Name)
	}
	indent := ""
	for i := 0; i < (l.Depth-1)*4; i++ {
		indent += " "
	}
	return fmt.Sprintf("%s|-- %s", indent, l.Name)
}

// RequiredBy walks every bundle in the MoM and reports, as a tree of
// RequiredByLine, which installed bundles include target (directly or
// transitively). Branches are not deduplicated across each other: a
// bundle reachable by two different paths is reported once per path,
// matching the reference tool's behavior.
func RequiredBy(target string, mom *Manifest, loader ManifestLoader, installed SubscriptionSet) ([]RequiredByLine, error) {
	var lines []RequiredByLine
	for _, f := range mom.Files {
		if _, ok := installed[f.Path]; !ok {
			continue
		}
		if f.Path == target {
			continue
		}
		m, err := loader.LoadManifest(f.Path, f.LastChange)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't load manifest for bundle %q", f.Path)
		}
		if err = requiredByWalk(target, f.Path, m, mom, loader, 1, &lines); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func requiredByWalk(target, current string, m, mom *Manifest, loader ManifestLoader, depth int, lines *[]RequiredByLine) error {
	for _, included := range m.Includes {
		if included == target {
			*lines = append(*lines, RequiredByLine{Name: current, Depth: depth})
			return nil
		}
	}
	for _, included := range m.Includes {
		im, err := loader.LoadManifest(included, manifestVersion(mom, included))
		if err != nil {
			continue
		}
		if err = requiredByWalk(target, current, im, mom, loader, depth+1, lines); err != nil {
			return err
		}
	}
	return nil
}

// ShowIncludedBundles renders the include tree of a single bundle,
// reusing RequiredByLine's indentation rule, added for symmetry with
// RequiredBy on the install side.
func ShowIncludedBundles(component string, mom *Manifest, loader ManifestLoader) ([]RequiredByLine, error) {
	var lines []RequiredByLine
	version := manifestVersion(mom, component)
	m, err := loader.LoadManifest(component, version)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't load manifest for bundle %q", component)
	}
	visited := map[string]bool{component: true}
	if err = includedWalk(m, mom, loader, 1, visited, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func includedWalk(m, mom *Manifest, loader ManifestLoader, depth int, visited map[string]bool, lines *[]RequiredByLine) error {
	for _, included := range m.Includes {
		*lines = append(*lines, RequiredByLine{Name: included, Depth: depth})
		if visited[included] {
			continue
		}
		visited[included] = true
		im, err := loader.LoadManifest(included, manifestVersion(mom, included))
		if err != nil {
			return errors.Wrapf(err, "couldn't load manifest for bundle %q", included)
		}
		if err = includedWalk(im, mom, loader, depth+1, visited, lines); err != nil {
			return err
		}
	}
	return nil
}
