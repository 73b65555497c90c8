// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads tandem configuration.
//
// Configuration comes from a single file named either by the
// TANDEM_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no fallback search.
// Files are YAML; files ending in .json or .jsonc are read as JSON with
// comments.
//
// Storage paths support ${HOME}, ${TANDEM_ROOT} and ${VAR:-default}
// expansion after loading. No other environment variables override
// config values.
package config
