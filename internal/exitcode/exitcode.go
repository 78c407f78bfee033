// Copyright © 2020 Intel Corporation
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

// Package exitcode defines the process exit codes the command-line
// surface maps engine outcomes to, so callers never have to inspect
// error message strings to decide how a process should exit.
package exitcode

// Code is a process exit status.
type Code int

// The exit codes the CLI surface can return.
const (
	Ok Code = iota
	CurrentVersionUnknown
	CouldntLoadMoM
	CouldntLoadManifest
	RecurseManifest
	InvalidBundle
	BundleNotTracked
	RequiredBundleError
	DiskSpaceError
	CouldntRemoveFile
	BadCert
	TimeUnknown
	CouldntListDir
	UnexpectedCondition
	InvalidOption
)

// Tagged wraps an error with the exit code it should map to.
type Tagged struct {
	Code Code
	Err  error
}

func (t *Tagged) Error() string { return t.Err.Error() }

// Unwrap allows errors.Is/As to see through a Tagged error.
func (t *Tagged) Unwrap() error { return t.Err }

// Tag wraps err with code, for use at the point an error is first
// classified (in fetch, store, tracking, or engine).
func Tag(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Tagged{Code: code, Err: err}
}

// From extracts the exit code from err, defaulting to UnexpectedCondition
// for an untagged error and Ok for a nil one.
func From(err error) Code {
	if err == nil {
		return Ok
	}
	if t, ok := err.(*Tagged); ok {
		return t.Code
	}
	return UnexpectedCondition
}
