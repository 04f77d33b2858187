// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package execpipe

import (
	"os"
	"syscall"
)

// terminateSignal is sent to a timed-out process before the unconditional
// kill escalation.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
