// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides a minimal wall-clock abstraction.
//
// Production code injects [Real]; tests inject [Fake] and move it
// explicitly, which makes transcript timestamps and session durations
// exact in assertions.
package clock
