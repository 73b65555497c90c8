// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the tandem binary: a tree
// of commands with pflag-parsed flags, structured help, typo
// suggestions, and a logger that matches the terminal it writes to.
package cli
