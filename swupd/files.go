// Copyright 2017 Intel Corporation
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
)

// Type describes what kind of filesystem object a manifest entry refers to.
type Type int

// The recognized entry types. TypeUnset is used only while parsing a
// partially-read flag string.
const (
	TypeUnset Type = iota
	TypeFile
	TypeDirectory
	TypeLink
	TypeDeleted
)

var typeBytes = map[Type]byte{
	TypeUnset:     '.',
	TypeFile:      'F',
	TypeDirectory: 'D',
	TypeLink:      'L',
	TypeDeleted:   'd',
}

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "F"
	case TypeDirectory:
		return "D"
	case TypeLink:
		return "L"
	case TypeDeleted:
		return "d"
	case TypeUnset:
		return "."
	}
	return "?"
}

func typeFromFlag(flag byte) (Type, error) {
	switch flag {
	case 'F':
		return TypeFile, nil
	case 'D':
		return TypeDirectory, nil
	case 'L':
		return TypeLink, nil
	case 'd':
		return TypeDeleted, nil
	case '.':
		return TypeUnset, nil
	default:
		return TypeUnset, fmt.Errorf("invalid file type flag: %v", flag)
	}
}

// File represents one entry in a manifest: a path, the content hash it
// should have at LastChange, and the four boolean modifier flags a client
// needs to decide how to treat the entry during install/remove.
type File struct {
	Path       string
	Hash       Hashval
	Type       Type
	LastChange uint32

	Experimental   bool
	DoNotUpdate    bool
	StagingPresent bool
	Ignore         bool
}

// Deleted reports whether this entry is a tombstone (content removed,
// path retained so clients on older manifests know to unlink it).
func (f *File) Deleted() bool {
	return f.Type == TypeDeleted
}

func flagByte(set bool, yes, no byte) byte {
	if set {
		return yes
	}
	return no
}

// setFlags parses the fixed 4-byte flag field of a manifest file line:
// type, experimental, do-not-update, staging-present/ignore.
func (f *File) setFlags(flags string) error {
	if len(flags) != 4 {
		return fmt.Errorf("invalid number of flags: %v", flags)
	}

	t, err := typeFromFlag(flags[0])
	if err != nil {
		return err
	}
	f.Type = t

	switch flags[1] {
	case 'e':
		f.Experimental = true
	case '.':
		f.Experimental = false
	default:
		return fmt.Errorf("invalid experimental flag: %v", flags[1])
	}

	switch flags[2] {
	case 'n':
		f.DoNotUpdate = true
	case '.':
		f.DoNotUpdate = false
	default:
		return fmt.Errorf("invalid do-not-update flag: %v", flags[2])
	}

	switch flags[3] {
	case 's':
		f.StagingPresent = true
	case 'i':
		f.Ignore = true
	case '.':
		f.StagingPresent = false
		f.Ignore = false
	default:
		return fmt.Errorf("invalid staging/ignore flag: %v", flags[3])
	}

	return nil
}

// GetFlagString returns the flags in the format written to a manifest file.
func (f *File) GetFlagString() (string, error) {
	b, ok := typeBytes[f.Type]
	if !ok {
		return "", fmt.Errorf("file %q has unrecognized type %v", f.Path, f.Type)
	}

	flagBytes := []byte{
		b,
		flagByte(f.Experimental, 'e', '.'),
		flagByte(f.DoNotUpdate, 'n', '.'),
		'.',
	}
	if f.StagingPresent {
		flagBytes[3] = 's'
	} else if f.Ignore {
		flagBytes[3] = 'i'
	}

	return string(flagBytes), nil
}

func (f *File) findPathInSlice(fs []*File) *File {
	for _, file := range fs {
		if file.Path == f.Path {
			return file
		}
	}
	return nil
}

func sameFile(f1, f2 *File) bool {
	return f1.Path == f2.Path &&
		f1.Hash == f2.Hash &&
		f1.Type == f2.Type
}
