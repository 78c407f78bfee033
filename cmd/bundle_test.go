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

package main

import (
	"testing"

	"github.com/clearlinux/bundle-client/engine"
	"github.com/clearlinux/bundle-client/internal/exitcode"
	"github.com/clearlinux/bundle-client/swupd"
)

func TestDedupeNamesSortsAndDrops(t *testing.T) {
	got := dedupeNames([]string{"editors", "os-core", "editors"})
	want := []string{"editors", "os-core"}
	if len(got) != len(want) {
		t.Fatalf("dedupeNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReportInstallSucceedsWhenAllInstalled(t *testing.T) {
	result := &engine.InstallResult{Outcomes: map[string]engine.InstallOutcome{
		"os-core": engine.Installed,
		"editors": engine.AlreadyInstalled,
	}}
	if err := reportInstall([]string{"os-core", "editors"}, result); err != nil {
		t.Errorf("reportInstall failed: %v", err)
	}
}

func TestReportInstallFailsOnUnknownBundle(t *testing.T) {
	result := &engine.InstallResult{Outcomes: map[string]engine.InstallOutcome{
		"ghost": engine.UnknownBundle,
	}}
	err := reportInstall([]string{"ghost"}, result)
	if err == nil {
		t.Fatal("reportInstall succeeded despite an unknown bundle")
	}
	if code := exitcode.From(err); code != exitcode.InvalidBundle {
		t.Errorf("exit code = %v, want InvalidBundle", code)
	}
}

func TestReportRemoveSucceedsWhenAllRemoved(t *testing.T) {
	result := &engine.RemoveResult{Outcomes: map[string]engine.RemoveOutcome{
		"editors": engine.Removed,
	}}
	if err := reportRemove([]string{"editors"}, result); err != nil {
		t.Errorf("reportRemove failed: %v", err)
	}
}

func TestReportRemoveFailsOnNotInstalled(t *testing.T) {
	result := &engine.RemoveResult{Outcomes: map[string]engine.RemoveOutcome{
		"ghost": engine.NotInstalled,
	}}
	err := reportRemove([]string{"ghost"}, result)
	if err == nil {
		t.Fatal("reportRemove succeeded despite a not-installed bundle")
	}
	if code := exitcode.From(err); code != exitcode.BundleNotTracked {
		t.Errorf("exit code = %v, want BundleNotTracked", code)
	}
}

func TestReportRemoveFailsWhenRequiredByOther(t *testing.T) {
	result := &engine.RemoveResult{
		Outcomes: map[string]engine.RemoveOutcome{"editors": engine.RequiredByOther},
		Blockers: map[string][]swupd.RequiredByLine{"editors": {{Name: "ide", Depth: 1}}},
	}
	err := reportRemove([]string{"editors"}, result)
	if err == nil {
		t.Fatal("reportRemove succeeded despite a bundle required by another")
	}
	if code := exitcode.From(err); code != exitcode.RequiredBundleError {
		t.Errorf("exit code = %v, want RequiredBundleError", code)
	}
}

func TestReportRemoveFailsOnOsCoreRejection(t *testing.T) {
	result := &engine.RemoveResult{Outcomes: map[string]engine.RemoveOutcome{
		"os-core": engine.Rejected,
	}}
	err := reportRemove([]string{"os-core"}, result)
	if err == nil {
		t.Fatal("reportRemove succeeded despite os-core being rejected")
	}
	if code := exitcode.From(err); code != exitcode.RequiredBundleError {
		t.Errorf("exit code = %v, want RequiredBundleError", code)
	}
}

func TestReportRemoveFailsOnRemoveFailed(t *testing.T) {
	result := &engine.RemoveResult{Outcomes: map[string]engine.RemoveOutcome{
		"editors": engine.RemoveFailed,
	}}
	err := reportRemove([]string{"editors"}, result)
	if err == nil {
		t.Fatal("reportRemove succeeded despite a bundle that failed removal")
	}
	if code := exitcode.From(err); code != exitcode.CouldntRemoveFile {
		t.Errorf("exit code = %v, want CouldntRemoveFile", code)
	}
}
