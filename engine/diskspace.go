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
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/internal/exitcode"
)

// diskSpaceMargin is the safety factor the admission check requires free
// space to clear over the raw content size, absorbing filesystem block
// rounding and metadata overhead.
const diskSpaceMargin = 1.1

// freeBytes reports the free space available to an unprivileged writer on
// the filesystem containing path.
func freeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}

// checkDiskSpace enforces 4.4's admission step: bundleSize scaled by
// diskSpaceMargin must fit in the free space under root's /usr subtree, and
// free space must be determinable.
func checkDiskSpace(root string, bundleSize uint64) error {
	usr := filepath.Join(root, "usr")
	free, err := freeBytes(usr)
	if err != nil {
		return exitcode.Tag(exitcode.DiskSpaceError, errors.Wrapf(err, "couldn't determine free space under %s", usr))
	}
	if float64(bundleSize)*diskSpaceMargin > float64(free) {
		return exitcode.Tag(exitcode.DiskSpaceError,
			errors.Errorf("need %d bytes (x%.1f margin) but only %d free under %s", bundleSize, diskSpaceMargin, free, usr))
	}
	return nil
}
