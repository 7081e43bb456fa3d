// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ttyspool/ttyspool/lib/artifact"
)

// CaptureEntry is one file pending finalization into the artifact
// store.
type CaptureEntry struct {
	// Path is the file's staging location.
	Path string
	// Label names the artifact's origin in the stored event. Empty
	// means derive it from Path.
	Label string
}

// label resolves the entry's effective label. Redirect captures are
// conventionally staged as redir_<name>; the prefix is stripped so the
// label is the target the shell redirected to.
func (e CaptureEntry) label() string {
	if e.Label != "" {
		return e.Label
	}
	name := filepath.Base(e.Path)
	if rest, ok := strings.CutPrefix(name, "redir_"); ok {
		return rest
	}
	return name
}

// CaptureSet tracks the capture files of one session: at most one
// armed stdin capture plus any number of registered redirect files.
// The zero value is ready to use.
type CaptureSet struct {
	stdinPath  string
	stdinArmed bool
	redirects  []CaptureEntry
}

// ArmStdin selects the stdin capture path. The file itself is created
// lazily by the first AppendStdin, so a session with no piped input
// leaves nothing behind to finalize.
func (c *CaptureSet) ArmStdin(path string) {
	c.stdinPath = path
	c.stdinArmed = true
}

// StdinArmed reports whether stdin bytes are being captured.
func (c *CaptureSet) StdinArmed() bool {
	return c.stdinArmed
}

// AppendStdin appends p to the stdin capture file, creating it on
// first use.
func (c *CaptureSet) AppendStdin(p []byte) error {
	file, err := os.OpenFile(c.stdinPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(p); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// AddRedirect registers a redirect output file for finalization.
func (c *CaptureSet) AddRedirect(path, label string) {
	c.redirects = append(c.redirects, CaptureEntry{Path: path, Label: label})
}

// DrainStdin finalizes the stdin capture, if armed, and disarms it so
// a second drain is a no-op. A capture that never received bytes has
// no file and finalizes as a harmless no-op.
func (c *CaptureSet) DrainStdin(store *artifact.Store) {
	if !c.stdinArmed {
		return
	}
	c.stdinArmed = false
	store.Finalize(c.stdinPath, "stdin")
}

// DrainRedirects finalizes every registered redirect file and clears
// the set. Entries whose file already vanished are no-ops.
func (c *CaptureSet) DrainRedirects(store *artifact.Store) {
	for _, entry := range c.redirects {
		store.Finalize(entry.Path, entry.label())
	}
	c.redirects = nil
}
