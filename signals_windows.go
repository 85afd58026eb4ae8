// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build windows

package qtask

import (
	"os"
	"os/signal"
)

// waitForSignals waits for signals and handles them.
// On Windows it handles os.Interrupt (SIGINT) only.
func (q *QTask) waitForSignals() {
	q.logger.Info("Listening for signals...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
}
