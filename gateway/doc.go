// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the recording SSH front end.
//
// [Server] accepts SSH connections, authenticates them against a
// static user table (or lets everyone in when the table is empty),
// and services session channels. A shell request runs the configured
// shell on a PTY; an exec request runs shell -c command over plain
// pipes with stdout and stderr merged. The gateway never interprets
// the byte stream itself.
//
// Every session is wired through a recorder.Recorder: bytes from the
// client are counted, captured, and forwarded to the process; process
// output is written to the transcript and forwarded to the client.
// The session ends when the process exits, the client disconnects, or
// the recorder trips the received-byte limit and forces end of input.
// Teardown drains captured input into the content-addressed artifact
// store, closes the transcript, and optionally uploads it.
//
// [LoadOrGenerateHostKey] persists the server's ed25519 host identity
// across restarts so clients do not see a changed host key after a
// redeploy.
package gateway
