// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package version carries build-time identifying information, set via
// linker flags at build time (-ldflags "-X lvmcache/internal/version.Version=...").
package version

import "github.com/go-logr/logr"

var (
	// Version is the build version, set at build time.
	Version = "dev"

	// GitCommit is the commit this build was produced from, set at
	// build time.
	GitCommit = "unknown"

	// BuildDate is the build timestamp, set at build time.
	BuildDate = "unknown"
)

// Log writes the build identity to log at info level, the way the
// teacher's entry points report version before doing anything else.
func Log(log logr.Logger) {
	log.Info("lvmcache-inspect", "version", Version, "commit", GitCommit, "buildDate", BuildDate)
}
