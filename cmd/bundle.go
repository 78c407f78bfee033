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
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/clearlinux/bundle-client/engine"
	"github.com/clearlinux/bundle-client/internal/exitcode"
	"github.com/clearlinux/bundle-client/internal/stringset"
)

// dedupeNames drops repeated bundle names off the command line, sorted,
// so a name typed twice is not reported twice in the result.
func dedupeNames(args []string) []string {
	return stringset.New(args...).Sort()
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Add, remove, and list bundles",
}

var addCmd = &cobra.Command{
	Use:   "add <bundle>...",
	Short: "Install one or more bundles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newEngine()
		if err != nil {
			return err
		}
		names := dedupeNames(args)
		result, err := c.Install(names)
		if err != nil {
			return err
		}
		return reportInstall(names, result)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <bundle>...",
	Short: "Remove one or more bundles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newEngine()
		if err != nil {
			return err
		}
		names := dedupeNames(args)
		result, err := c.Remove(names)
		if err != nil {
			return err
		}
		return reportRemove(names, result)
	},
}

var listFlags = struct {
	installable bool
}{}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed bundles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newEngine()
		if err != nil {
			return err
		}
		var infos []engine.BundleInfo
		if listFlags.installable {
			infos, err = c.ListInstallable()
		} else {
			infos, err = c.ListInstalled()
		}
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.Experimental {
				fmt.Printf("%s (experimental)\n", info.Name)
			} else {
				fmt.Println(info.Name)
			}
		}
		return nil
	},
}

func reportInstall(names []string, result *engine.InstallResult) error {
	failed := 0
	code := exitcode.Ok
	for _, name := range names {
		switch result.Outcomes[name] {
		case engine.Installed:
			fmt.Printf("%s installed\n", name)
		case engine.AlreadyInstalled:
			fmt.Printf("%s already installed\n", name)
		case engine.UnknownBundle:
			fmt.Printf("%s not found\n", name)
			failed++
			if code == exitcode.Ok {
				code = exitcode.InvalidBundle
			}
		}
	}
	if failed > 0 {
		return exitcode.Tag(code, errors.Errorf("failed to install %d of %d bundle(s)", failed, len(names)))
	}
	return nil
}

func reportRemove(names []string, result *engine.RemoveResult) error {
	failed := 0
	code := exitcode.Ok
	worsen := func(c exitcode.Code) {
		if code == exitcode.Ok {
			code = c
		}
	}
	for _, name := range names {
		switch result.Outcomes[name] {
		case engine.Removed:
			fmt.Printf("%s removed\n", name)
		case engine.NotInstalled:
			fmt.Printf("%s not installed\n", name)
			failed++
			worsen(exitcode.BundleNotTracked)
		case engine.Rejected:
			fmt.Printf("%s could not be removed\n", name)
			failed++
			worsen(exitcode.RequiredBundleError)
		case engine.RemoveFailed:
			fmt.Printf("%s could not be removed\n", name)
			failed++
			worsen(exitcode.CouldntRemoveFile)
		case engine.RequiredByOther:
			fmt.Printf("%s is required by:\n", name)
			for _, line := range result.Blockers[name] {
				fmt.Println(line.String())
			}
			failed++
			worsen(exitcode.RequiredBundleError)
		}
	}
	if failed > 0 {
		return exitcode.Tag(code, errors.Errorf("failed to remove %d of %d bundle(s)", failed, len(names)))
	}
	return nil
}

func init() {
	listCmd.Flags().BoolVar(&listFlags.installable, "installable", false, "list every bundle available, not just installed ones")

	bundleCmd.AddCommand(addCmd, removeCmd, listCmd)
	RootCmd.AddCommand(bundleCmd)
}
