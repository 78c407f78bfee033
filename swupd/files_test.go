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

import "testing"

func TestTypeString(t *testing.T) {
	cases := []struct {
		typ  Type
		want string
	}{
		{TypeFile, "F"},
		{TypeDirectory, "D"},
		{TypeLink, "L"},
		{TypeDeleted, "d"},
		{TypeUnset, "."},
		{Type(99), "?"},
	}
	for _, tc := range cases {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("Type(%d).String() = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestDeletedReflectsType(t *testing.T) {
	f := &File{Type: TypeDeleted}
	if !f.Deleted() {
		t.Error("Deleted() = false for TypeDeleted")
	}
	f.Type = TypeFile
	if f.Deleted() {
		t.Error("Deleted() = true for TypeFile")
	}
}

func TestSetFlagsAndGetFlagStringRoundTrip(t *testing.T) {
	cases := []string{
		"F...",
		"Fen.",
		"D..s",
		"L..i",
		"d...",
	}
	for _, flags := range cases {
		f := &File{}
		if err := f.setFlags(flags); err != nil {
			t.Fatalf("setFlags(%q) failed: %v", flags, err)
		}
		got, err := f.GetFlagString()
		if err != nil {
			t.Fatalf("GetFlagString() failed: %v", err)
		}
		if got != flags {
			t.Errorf("round trip of %q produced %q", flags, got)
		}
	}
}

func TestSetFlagsRejectsBadLength(t *testing.T) {
	f := &File{}
	if err := f.setFlags("F.."); err == nil {
		t.Fatal("setFlags accepted a 3-byte flag string")
	}
}

func TestSetFlagsRejectsUnknownTypeByte(t *testing.T) {
	f := &File{}
	if err := f.setFlags("X..."); err == nil {
		t.Fatal("setFlags accepted an unrecognized type byte")
	}
}

func TestSetFlagsRejectsUnknownExperimentalByte(t *testing.T) {
	f := &File{}
	if err := f.setFlags("Fx.."); err == nil {
		t.Fatal("setFlags accepted an unrecognized experimental byte")
	}
}

func TestSetFlagsRejectsUnknownDoNotUpdateByte(t *testing.T) {
	f := &File{}
	if err := f.setFlags("F.x."); err == nil {
		t.Fatal("setFlags accepted an unrecognized do-not-update byte")
	}
}

func TestSetFlagsRejectsUnknownStagingByte(t *testing.T) {
	f := &File{}
	if err := f.setFlags("F..x"); err == nil {
		t.Fatal("setFlags accepted an unrecognized staging/ignore byte")
	}
}

func TestGetFlagStringRejectsUnrecognizedType(t *testing.T) {
	// typeBytes does contain TypeUnset ('.'), so only an out-of-range
	// Type value should make GetFlagString fail.
	f := &File{Type: Type(99)}
	if _, err := f.GetFlagString(); err == nil {
		t.Fatal("GetFlagString succeeded for an unrecognized type")
	}
}

func TestGetFlagStringPrefersStagingOverIgnore(t *testing.T) {
	f := &File{Type: TypeFile, StagingPresent: true, Ignore: true}
	got, err := f.GetFlagString()
	if err != nil {
		t.Fatalf("GetFlagString failed: %v", err)
	}
	if got[3] != 's' {
		t.Errorf("GetFlagString() = %q, want staging flag 's' in 4th byte", got)
	}
}

func TestFindPathInSlice(t *testing.T) {
	f := &File{Path: "/foo"}
	others := []*File{{Path: "/bar"}, {Path: "/foo"}}
	if got := f.findPathInSlice(others); got != others[1] {
		t.Errorf("findPathInSlice found %+v, want others[1]", got)
	}
	if got := f.findPathInSlice([]*File{{Path: "/bar"}}); got != nil {
		t.Errorf("findPathInSlice found %+v, want nil", got)
	}
}

func TestSameFile(t *testing.T) {
	a := &File{Path: "/foo", Hash: 1, Type: TypeFile}
	b := &File{Path: "/foo", Hash: 1, Type: TypeFile}
	c := &File{Path: "/foo", Hash: 2, Type: TypeFile}
	if !sameFile(a, b) {
		t.Error("sameFile(a, b) = false, want true for identical path/hash/type")
	}
	if sameFile(a, c) {
		t.Error("sameFile(a, c) = true, want false: differing hash")
	}
}
