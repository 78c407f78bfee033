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
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

const manifestFieldDelim = "\t"

// MoMName is the component name used for the manifest-of-manifests.
const MoMName = "MoM"

// ManifestHeader contains metadata for the manifest.
type ManifestHeader struct {
	Format      uint
	Version     uint32
	Previous    uint32
	FileCount   uint32
	TimeStamp   time.Time
	ContentSize uint64
}

// Manifest represents a bundle manifest, or the manifest-of-manifests when
// Component is MoMName.
type Manifest struct {
	Component string
	Header    ManifestHeader
	Includes  []string
	Files     []*File
}

// readManifestFileHeaderLine reads a header line from a manifest.
func readManifestFileHeaderLine(fields []string, m *Manifest) error {
	var err error
	var parsed uint64

	switch fields[0] {
	case "MANIFEST":
		if parsed, err = strconv.ParseUint(fields[1], 10, 16); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Format = uint(parsed)
	case "version:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Version = uint32(parsed)
	case "previous:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Previous = uint32(parsed)
	case "filecount:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.FileCount = uint32(parsed)
	case "timestamp:":
		var timestamp int64
		if timestamp, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.TimeStamp = time.Unix(timestamp, 0)
	case "contentsize:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.ContentSize = parsed
	case "includes:":
		m.Includes = append(m.Includes, fields[1])
	}

	return nil
}

// readManifestFileEntry parses a file line:
// "<flags, 4 chars>", "<hash, 64 chars>", "<lastchange>", "<path>"
func readManifestFileEntry(fields []string, m *Manifest) error {
	fflags := fields[0]
	fhash := fields[1]
	fver := fields[2]
	fpath := fields[3]

	if len(fflags) != 4 {
		return fmt.Errorf("invalid number of flags: %v", fflags)
	}
	if len(fhash) != 64 && fhash != AllZeroHash {
		return fmt.Errorf("invalid hash: %v", fhash)
	}

	parsed, err := strconv.ParseUint(fver, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version: %v", err)
	}

	file := &File{Path: fpath, LastChange: uint32(parsed)}
	file.Hash = internHash(fhash)

	if err = file.setFlags(fflags); err != nil {
		return fmt.Errorf("invalid flags: %v", err)
	}

	m.Files = append(m.Files, file)
	return nil
}

// CheckHeaderIsValid verifies that all header fields in the manifest are valid.
func (m *Manifest) CheckHeaderIsValid() error {
	if m.Header.Format == 0 {
		return errors.New("manifest format not set")
	}
	if m.Header.Version == 0 {
		return errors.New("manifest has version zero, version must be positive")
	}
	if m.Header.Version < m.Header.Previous {
		return errors.New("version is smaller than previous")
	}
	if m.Header.FileCount == 0 {
		return errors.New("manifest has a zero file count")
	}
	if m.Header.TimeStamp.IsZero() {
		return errors.New("manifest timestamp not set")
	}
	return nil
}

var requiredManifestHeaderEntries = []string{
	"MANIFEST",
	"version:",
	"previous:",
	"filecount:",
	"timestamp:",
	"contentsize:",
}

// ParseManifestFile creates a Manifest from the file at path.
func ParseManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	m.Component = componentForManifestFile(path)
	if err = f.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

func componentForManifestFile(path string) string {
	const prefix = "Manifest."
	idx := strings.LastIndex(path, prefix)
	if idx == -1 {
		return ""
	}
	name := path[idx+len(prefix):]
	if name == MoMName {
		return MoMName
	}
	return name
}

// ParseManifest creates a Manifest from an io.Reader.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	input := bufio.NewScanner(r)

	parsedEntries := make(map[string]uint)
	for input.Scan() {
		text := input.Text()
		if text == "" {
			break
		}

		fields := strings.Split(text, manifestFieldDelim)
		entry := fields[0]
		if entry != "includes:" && parsedEntries[entry] > 0 {
			return nil, fmt.Errorf("invalid manifest, duplicate entry %q in header", entry)
		}
		parsedEntries[entry]++

		if err := readManifestFileHeaderLine(fields, m); err != nil {
			return nil, err
		}
	}

	for _, e := range requiredManifestHeaderEntries {
		if parsedEntries[e] == 0 {
			return nil, fmt.Errorf("invalid manifest, missing entry %q in header", e)
		}
	}
	if err := m.CheckHeaderIsValid(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, m.Header.FileCount)
	for input.Scan() {
		text := input.Text()
		if text == "" {
			return nil, errors.New("invalid manifest, extra blank line")
		}

		fields := strings.Split(text, manifestFieldDelim)
		if err := readManifestFileEntry(fields, m); err != nil {
			return nil, err
		}
		last := m.Files[len(m.Files)-1]
		if seen[last.Path] {
			return nil, fmt.Errorf("invalid manifest, duplicate path %q", last.Path)
		}
		seen[last.Path] = true
	}

	if len(m.Files) == 0 {
		return nil, errors.New("invalid manifest, does not have any file entries")
	}

	return m, nil
}

var manifestTemplate = template.Must(template.New("manifest").Parse(`
{{- with .Header -}}
MANIFEST	{{.Format}}
version:	{{.Version}}
previous:	{{.Previous}}
filecount:	{{.FileCount}}
timestamp:	{{(.TimeStamp.Unix)}}
contentsize:	{{.ContentSize -}}
{{end}}
{{- range .Includes}}
includes:	{{.}}
{{- end}}
{{ range .Files}}
{{.GetFlagString}}	{{.Hash}}	{{.LastChange}}	{{.Path}}
{{- end}}
`))

// WriteManifest writes manifest to a given io.Writer.
func (m *Manifest) WriteManifest(w io.Writer) error {
	if err := m.CheckHeaderIsValid(); err != nil {
		return err
	}
	if err := manifestTemplate.Execute(w, m); err != nil {
		return fmt.Errorf("couldn't write Manifest.%s: %s", m.Component, err)
	}
	return nil
}

// WriteManifestFile writes manifest m to a new file at path.
func (m *Manifest) WriteManifestFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err = m.WriteManifest(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (m *Manifest) sortFilesByPath() {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})
}

// FileByPath returns the entry for path, or nil if absent.
func (m *Manifest) FileByPath(path string) *File {
	for _, f := range m.Files {
		if f.Path == path {
			return f
		}
	}
	return nil
}

// subtractManifestFromManifest removes, from m, every entry whose path also
// appears in m2 with the same type, except that an entry that is a
// tombstone in both is kept. Both file lists must be sorted by path.
// Exclusively-owned files are what survive a subtraction, which is how the
// remover computes what is safe to unlink.
func (m *Manifest) subtractManifestFromManifest(m2 *Manifest) {
	i, j := 0, 0
	for i < len(m.Files) && j < len(m2.Files) {
		f1 := m.Files[i]
		f2 := m2.Files[j]
		switch {
		case f1.Path == f2.Path:
			if f1.Deleted() && f2.Deleted() {
				i++
				j++
				continue
			}
			if f1.Type == f2.Type {
				m.Files = append(m.Files[:i], m.Files[i+1:]...)
			}
			j++
		case f1.Path < f2.Path:
			i++
		default:
			j++
		}
	}
}

// SubtractManifests removes from m every file also present (with matching
// type, tombstones in both excepted) in any of the given manifests. All inputs must be sorted by path.
func (m *Manifest) SubtractManifests(others ...*Manifest) {
	for _, o := range others {
		if m != o {
			m.subtractManifestFromManifest(o)
		}
	}
}
