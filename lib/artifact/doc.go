// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements the content-addressed store that session
// captures are finalized into. Stored files are named by the lowercase
// hex SHA-256 of their content, so identical payloads captured by any
// number of sessions collapse to a single file.
//
// Finalization is best effort: filesystem failures are logged and
// reported as an outcome, never returned, so a session teardown cannot
// abort over a bad artifact.
package artifact
