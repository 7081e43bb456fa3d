// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of ttyspool is running.
//
// Release builds stamp the package variables through the linker:
//
//	go build -ldflags "
//	  -X github.com/ttyspool/ttyspool/lib/version.Version=1.4.0
//	  -X github.com/ttyspool/ttyspool/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Binaries built without stamps fall back to the VCS metadata the Go
// toolchain embeds, when there is any.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Stamped by the linker; see the package comment.
var (
	// Version is the release number, set by hand when tagging.
	Version = "0.1.0-dev"
	// GitCommit is the short SHA the binary was built from.
	GitCommit = ""
	// GitDirty is "true" when the work tree had uncommitted changes.
	GitDirty = ""
	// BuildTime is the UTC build timestamp.
	BuildTime = ""
)

// Short returns the bare release number.
func Short() string {
	return Version
}

// Commit returns the source revision, suffixed with "-dirty" for a
// modified work tree. Unstamped binaries report the revision the
// toolchain embedded, or "unknown" outside a checkout.
func Commit() string {
	commit, dirty := GitCommit, GitDirty == "true"
	if commit == "" {
		commit, dirty = embeddedRevision()
	}
	if commit == "" {
		return "unknown"
	}
	if dirty {
		commit += "-dirty"
	}
	return commit
}

// Info is the one-line form shown by -version: the release number
// with the commit as build metadata, plus the build time when
// stamped.
func Info() string {
	info := Version
	if commit := Commit(); commit != "unknown" {
		info += "+" + commit
	}
	if BuildTime != "" {
		info += " (built " + BuildTime + ")"
	}
	return info
}

// Full returns a multi-line report for diagnostics.
func Full() string {
	var report strings.Builder
	fmt.Fprintf(&report, "ttyspool %s\n", Info())
	fmt.Fprintf(&report, "  commit:   %s\n", Commit())
	fmt.Fprintf(&report, "  go:       %s\n", runtime.Version())
	fmt.Fprintf(&report, "  platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	return report.String()
}

// embeddedRevision digs the VCS revision out of the build info the
// toolchain records for module builds.
func embeddedRevision() (revision string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return revision, dirty
}
