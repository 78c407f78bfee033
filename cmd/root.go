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

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clearlinux/bundle-client/engine"
	"github.com/clearlinux/bundle-client/internal/exitcode"
	internallog "github.com/clearlinux/bundle-client/internal/log"
	"github.com/clearlinux/bundle-client/swupd"
)

var rootFlags = struct {
	path     string
	logLevel int
	logFile  string
	skipDisk bool
}{}

// RootCmd is the base command, mirroring the reference client's top-level
// swupd binary: everything else hangs off it as a subcommand.
var RootCmd = &cobra.Command{
	Use:   "swupd-client",
	Short: "Install, remove, and enumerate OS bundles",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		internallog.SetLogLevel(rootFlags.logLevel)
		if rootFlags.logFile != "" {
			if _, err := internallog.SetOutputFilename(rootFlags.logFile); err != nil {
				return err
			}
		}
		return nil
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		internallog.CloseLogHandler()
	},
}

// Execute runs RootCmd, translating a tagged error into the matching
// process exit code.
func Execute() {
	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true
	if err := RootCmd.Execute(); err != nil {
		fail(err)
	}
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&rootFlags.path, "path", "/", "target filesystem root")
	flags.IntVar(&rootFlags.logLevel, "loglevel", internallog.LevelInfo, "log verbosity, 1 (error) through 5 (verbose)")
	flags.StringVar(&rootFlags.logFile, "log-file", "", "write debug/verbose log entries to this file")
	flags.BoolVar(&rootFlags.skipDisk, "skip-diskspace-check", false, "skip the free-space admission check before installing")
}

// newEngine builds an engine.Context rooted at --path, configured from
// <path>/usr/share/defaults/swupd/update.ini.
func newEngine() (*engine.Context, error) {
	root := rootFlags.path
	iniPath := filepath.Join(root, "usr", "share", "defaults", "swupd", "update.ini")
	cfg := swupd.ReadUpdateINI(iniPath)

	c, err := engine.New(root, cfg)
	if err != nil {
		return nil, err
	}
	c.DiskSpaceCheck = !rootFlags.skipDisk
	return c, nil
}

func fail(err error) {
	internallog.Error(internallog.Engine, "%s", err)
	os.Exit(int(exitcode.From(err)))
}
