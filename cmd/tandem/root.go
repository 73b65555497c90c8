// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/bureau-foundation/tandem/cmd/tandem/cli"

func root() *cli.Command {
	return &cli.Command{
		Name:    "tandem",
		Summary: "Real-time co-editing sessions",
		Description: `Tandem coordinates a co-editing session between participants.

One participant hosts: it accepts connections, routes every activity,
assigns identity colors and decides who may write. The others join the
host. Every participant edits the shared document "notes.txt" by typing
lines on standard input.`,
		Subcommands: []*cli.Command{
			hostCommand(),
			joinCommand(),
			simulateCommand(),
			colorsCommand(),
		},
	}
}
