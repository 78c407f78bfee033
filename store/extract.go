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

package store

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clearlinux/bundle-client/swupd"
)

// extractStaged writes one tar entry from a fullfile or pack into
// staged/temp/<hash>, verifies its content hash matches the entry's
// basename, and only then renames it into its final staged/<hash>
// location. This stage-verify-rename sequence is what keeps a
// partially-written or corrupt download from ever being visible at the
// path the applier trusts.
func (s *Store) extractStaged(hdr *tar.Header, r io.Reader) error {
	basename := filepath.Base(hdr.Name)
	finalPath := s.StagedPath(basename)

	if _, err := os.Lstat(finalPath); err == nil {
		hash, herr := swupd.GetHashForFile(finalPath)
		if herr == nil && hash == basename {
			if !s.NoCache {
				return nil
			}
		}
		if err = os.Remove(finalPath); err != nil {
			return fmt.Errorf("couldn't remove stale staged file for re-extraction: %s", err)
		}
	}

	tempPath := filepath.Join(s.Dir, "staged", "temp", basename)

	switch hdr.Typeflag {
	case tar.TypeReg:
		mode := hdr.FileInfo().Mode()
		f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("couldn't create temporary file: %s", err)
		}
		if _, err = io.Copy(f, r); err != nil {
			_ = f.Close()
			return fmt.Errorf("couldn't extract data to temporary file %s: %s", tempPath, err)
		}
		if err = f.Chown(hdr.Uid, hdr.Gid); err != nil {
			_ = f.Close()
			return fmt.Errorf("couldn't change ownership of temporary file: %s", err)
		}
		if mode&(os.ModeSticky|os.ModeSetgid|os.ModeSetuid) != 0 {
			if err = f.Chmod(mode); err != nil {
				_ = f.Close()
				return fmt.Errorf("couldn't change mode of temporary file: %s", err)
			}
		}
		if err = f.Close(); err != nil {
			return fmt.Errorf("couldn't close temporary file: %s", err)
		}

	case tar.TypeSymlink:
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("couldn't remove previous temporary file: %s", err)
		}
		if err := os.Symlink(hdr.Linkname, tempPath); err != nil {
			return fmt.Errorf("couldn't create temporary symlink: %s", err)
		}

	case tar.TypeDir:
		if err := os.RemoveAll(tempPath); err != nil {
			return fmt.Errorf("couldn't remove previous temporary directory: %s", err)
		}
		if err := os.Mkdir(tempPath, hdr.FileInfo().Mode()); err != nil {
			return fmt.Errorf("couldn't create temporary directory: %s", err)
		}
		if err := os.Chown(tempPath, hdr.Uid, hdr.Gid); err != nil {
			return fmt.Errorf("couldn't change ownership of temporary directory: %s", err)
		}
		if err := os.Chmod(tempPath, hdr.FileInfo().Mode()); err != nil {
			return fmt.Errorf("couldn't change mode of temporary directory: %s", err)
		}

	default:
		return fmt.Errorf("unsupported type %c in archive entry %s", hdr.Typeflag, basename)
	}

	hash, err := swupd.GetHashForFile(tempPath)
	if err != nil {
		return err
	}
	if hash != basename {
		return fmt.Errorf("staged file %s has invalid hash %s", finalPath, hash)
	}

	return os.Rename(tempPath, finalPath)
}
