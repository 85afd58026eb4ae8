// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"sync"
	"time"

	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/log"
)

const defaultHealthCheckInterval = 15 * time.Second

// healthchecker is responsible for periodically checking the health of the
// store session and invoking a user provided callback with the result of each
// ping (nil when the store is healthy).
type healthchecker struct {
	logger *log.Logger
	broker base.Broker

	// channel to communicate back to the long running "healthchecker" goroutine.
	done chan struct{}

	// interval between healthchecks.
	interval time.Duration

	// user provided callback invoked after every ping with its error, if any.
	healthcheckFunc func(error)
}

type healthcheckerParams struct {
	logger          *log.Logger
	broker          base.Broker
	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(params healthcheckerParams) *healthchecker {
	if params.interval <= 0 {
		params.interval = defaultHealthCheckInterval
	}
	return &healthchecker{
		logger:          params.logger,
		broker:          params.broker,
		done:            make(chan struct{}),
		interval:        params.interval,
		healthcheckFunc: params.healthcheckFunc,
	}
}

func (hc *healthchecker) shutdown() {
	hc.logger.Debug("Healthchecker shutting down...")
	// Signal the healthchecker goroutine to stop.
	hc.done <- struct{}{}
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		for {
			select {
			case <-hc.done:
				hc.logger.Debug("Healthchecker done")
				timer.Stop()
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	err := hc.broker.Ping(context.Background())
	if err != nil {
		hc.logger.Warnf("Store healthcheck failed: %v", err)
	}
	if hc.healthcheckFunc != nil {
		hc.healthcheckFunc(err)
	}
}
