// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Tandem hosts and joins real-time co-editing sessions over TCP, and
// simulates whole sessions in memory.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		// Commands that already printed their outcome return an
		// ExitError; don't add an "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}
