// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matteruser runs a chat bot on a Mattermost server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	saveConfig bool
	botName    string
)

var rootCmd = &cobra.Command{
	Use:           "matteruser",
	Short:         "Chat bot adapter for Mattermost",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "matteruser %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.Flags().BoolVar(&saveConfig, "save-config", false, "rewrite the config file against the current defaults")
	rootCmd.Flags().StringVar(&botName, "name", "hubot", "initial robot name, replaced by the username after login")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
