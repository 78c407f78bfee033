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

// Package telemetry persists a small per-operation record (which bundle,
// how many bytes moved, what happened) after each install or remove, in
// the same "#VERSION header, then TOML body" shape the teacher uses for
// its own mixer.state file.
package telemetry

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// RecordVersion is the telemetry file format version written to the
// header line.
const RecordVersion = "1.0"

// Operation names the kind of bundle lifecycle action recorded.
type Operation string

// The operations a record can describe.
const (
	OpInstall Operation = "install"
	OpRemove  Operation = "remove"
)

// Record is one bundle operation's outcome.
type Record struct {
	Bundle           string    `toml:"BUNDLE"`
	Operation        Operation `toml:"OPERATION"`
	Version          uint32    `toml:"VERSION"`
	BytesTransferred int64     `toml:"BYTES_TRANSFERRED"`
	Succeeded        bool      `toml:"SUCCEEDED"`
	Error            string    `toml:"ERROR,omitempty"`

	filename string
}

// NewRecord returns a Record that will be written to path by Save.
func NewRecord(path, bundle string, op Operation, version uint32) *Record {
	return &Record{
		Bundle:    bundle,
		Operation: op,
		Version:   version,
		filename:  path,
	}
}

// Save writes the record to its filename, overwriting any previous
// content, in "#VERSION x.y\n\n" + TOML-body form.
func (r *Record) Save() error {
	var buffer bytes.Buffer
	buffer.WriteString("#VERSION " + RecordVersion + "\n\n")

	enc := toml.NewEncoder(&buffer)
	if err := enc.Encode(r); err != nil {
		return err
	}

	w, err := os.OpenFile(r.filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()

	_, err = buffer.WriteTo(w)
	return err
}

// Load reads a Record previously written by Save.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	reader := bufio.NewReader(f)
	verLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	r := regexp.MustCompile(`^#VERSION ([0-9]+\.[0-9]+)\n`)
	if !r.MatchString(verLine) {
		return nil, errors.New("unable to read telemetry record version")
	}

	// Skip the blank separator line.
	if _, err = reader.ReadString('\n'); err != nil {
		return nil, err
	}

	rec := &Record{filename: path}
	if _, err = toml.DecodeReader(reader, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
