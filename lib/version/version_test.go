// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	defer func(commit, dirty, buildTime, version string) {
		GitCommit, GitDirty, BuildTime, Version = commit, dirty, buildTime, version
	}(GitCommit, GitDirty, BuildTime, Version)

	GitCommit = "abc1234"
	GitDirty = "false"
	BuildTime = "2026-08-25T10:00:00Z"
	Version = "1.2.3"

	if got, want := Info(), "1.2.3+abc1234 (built 2026-08-25T10:00:00Z)"; got != want {
		t.Errorf("Info: got %q, want %q", got, want)
	}
	if got, want := Short(), "1.2.3"; got != want {
		t.Errorf("Short: got %q, want %q", got, want)
	}
	if got, want := Commit(), "abc1234"; got != want {
		t.Errorf("Commit: got %q, want %q", got, want)
	}

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info with dirty tree: got %q, want a -dirty suffix on the commit", got)
	}

	// Unstamped builds may or may not carry toolchain VCS metadata;
	// either way the line opens with the release number.
	GitCommit, GitDirty, BuildTime = "", "", ""
	if got := Info(); !strings.HasPrefix(got, "1.2.3") {
		t.Errorf("unstamped Info: got %q, want a %q prefix", got, "1.2.3")
	}
}

func TestFullMentionsPlatform(t *testing.T) {
	full := Full()
	if !strings.Contains(full, "go:") || !strings.Contains(full, "platform:") {
		t.Errorf("Full: got %q, want go and platform lines", full)
	}
	if !strings.Contains(full, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Full: got %q, missing %s/%s", full, runtime.GOOS, runtime.GOARCH)
	}
}
