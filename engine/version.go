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
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/clearlinux/bundle-client/internal/exitcode"
)

// CurrentVersion reads the VERSION_ID field out of root's os-release file,
// the well-known source of "current OS version" named in the external
// interfaces.
func CurrentVersion(root string) (uint32, error) {
	path := filepath.Join(root, "usr", "lib", "os-release")
	f, err := os.Open(path)
	if err != nil {
		return 0, exitcode.Tag(exitcode.CurrentVersionUnknown, errors.Wrapf(err, "couldn't read %s", path))
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VERSION_ID=") {
			continue
		}
		value := strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), `"`)
		version, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return 0, exitcode.Tag(exitcode.CurrentVersionUnknown, errors.Wrapf(perr, "invalid VERSION_ID %q", value))
		}
		return uint32(version), nil
	}

	return 0, exitcode.Tag(exitcode.CurrentVersionUnknown, errors.Errorf("no VERSION_ID found in %s", path))
}
