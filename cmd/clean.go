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
	"io/ioutil"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clearlinux/bundle-client/engine"
	"github.com/clearlinux/bundle-client/store"
)

var cleanFlags = struct {
	all    bool
	dryRun bool
}{}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Reclaim staged content and stale manifests from the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newEngine()
		if err != nil {
			return err
		}

		var mom []byte
		if version, verr := engine.CurrentVersion(c.Root); verr == nil {
			if _, merr := c.Store.GetMoM(version); merr == nil {
				momPath := filepath.Join(c.Store.VersionDir(version), "Manifest.MoM")
				mom, _ = ioutil.ReadFile(momPath)
			}
		}

		j := &store.Janitor{Store: c.Store, CurrentMoM: mom}
		removed, err := j.Clean(cleanFlags.dryRun, cleanFlags.all)
		if err != nil {
			return err
		}
		for _, path := range removed {
			fmt.Println(path)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanFlags.all, "all", false, "also reclaim manifests for versions still referenced by the current MoM")
	cleanCmd.Flags().BoolVar(&cleanFlags.dryRun, "dry-run", false, "report what would be removed without removing it")

	RootCmd.AddCommand(cleanCmd)
}
