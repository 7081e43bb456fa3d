// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements ttyspool-gateway, the recording SSH
// gateway daemon.
//
// The gateway terminates SSH, runs the configured shell for each
// session, and records what flows through it: session transcripts in
// ttylog format under <log_dir>/tty/, piped exec input and registered
// redirect files in the content-addressed download store, and
// (optionally) transcript copies in S3-compatible object storage.
//
// Configuration comes from a YAML file (flag -config, then
// $TTYSPOOL_CONFIG, then /etc/ttyspool/config.yaml); the -listen flag
// overrides the configured listen address for ad-hoc runs. The daemon
// shuts down cleanly on SIGINT or SIGTERM, waiting for in-flight
// sessions to finish recording.
package main
