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
	"io"
	"os/exec"
)

// ExternalReader filters a Reader with an external program. Every
// time a Read is called, it will read from the output of the program,
// that reads from the underlying reader. Used by CompressedTarReader
// to decompress xz/zstd content the stdlib has no decoder for.
type ExternalReader struct {
	cmd    *exec.Cmd
	output io.ReadCloser
}

// NewExternalReader creates an ExternalReader with the passed underlying
// Reader and the program to execute as filter.
func NewExternalReader(r io.Reader, program string, args ...string) (*ExternalReader, error) {
	cmd := exec.Command(program, args...)
	cmd.Stdin = r
	output, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		_ = output.Close()
		return nil, err
	}
	return &ExternalReader{cmd, output}, nil
}

func (er *ExternalReader) Read(p []byte) (int, error) {
	return er.output.Read(p)
}

// Close properly finishes the execution of an ExternalReader.
func (er *ExternalReader) Close() error {
	return er.cmd.Wait()
}
