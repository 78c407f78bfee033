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
	"os"
)

// ClassifyType maps an os.FileInfo's mode to the manifest Type it
// corresponds to on disk, the inverse of what the applier needs when
// deciding how to stage a file.
func ClassifyType(fi os.FileInfo) (Type, error) {
	switch mode := fi.Mode(); {
	case mode.IsRegular():
		return TypeFile, nil
	case mode.IsDir():
		return TypeDirectory, nil
	case mode&os.ModeSymlink != 0:
		return TypeLink, nil
	default:
		return TypeUnset, fmt.Errorf("%v is an unsupported file type", fi.Name())
	}
}

// LocalHash computes the content hash of the file already present at path,
// using the same HashFileInfo/NewHash algorithm the manifest hashes are
// computed with, so it can be compared directly against a File.Hash.
func LocalHash(path string) (Hashval, error) {
	h, err := GetHashForFile(path)
	if err != nil {
		return 0, fmt.Errorf("hash calculation error: %v", err)
	}
	return internHash(h), nil
}

// Exists reports whether path exists, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
