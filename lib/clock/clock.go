// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source components stamp records with.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
