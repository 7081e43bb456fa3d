// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package recorder implements the per-session recording pipeline:
// every byte exchanged between a connected peer and its terminal
// passes through a [Recorder], which appends transcript records,
// captures piped stdin for exec sessions, enforces the received-byte
// ceiling, and on teardown drains captured files into the shared
// artifact store and archives the transcript.
//
// A Recorder is owned by exactly one session. Its methods must be
// called sequentially; the transport layer serializes delivery, so the
// recorder itself holds no locks. The only cross-session state is the
// [artifact.Store], which is safe to share.
package recorder
