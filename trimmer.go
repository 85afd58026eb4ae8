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

const defaultTrimInterval = 5 * time.Minute

// trimmer is responsible for periodically trimming the partition streams of
// the configured topics to a bounded approximate length.
type trimmer struct {
	logger *log.Logger
	broker base.Broker

	// channel to communicate back to the long running "trimmer" goroutine.
	done chan struct{}

	// logical topics whose partition streams are trimmed.
	topics []string

	// number of partitions per topic.
	totalPartitions int

	// interval between trim runs.
	interval time.Duration

	// approximate maximum stream length to keep.
	maxLen int64
}

type trimmerParams struct {
	logger          *log.Logger
	broker          base.Broker
	topics          []string
	totalPartitions int
	interval        time.Duration
	maxLen          int64
}

func newTrimmer(params trimmerParams) *trimmer {
	if params.interval <= 0 {
		params.interval = defaultTrimInterval
	}
	return &trimmer{
		logger:          params.logger,
		broker:          params.broker,
		done:            make(chan struct{}),
		topics:          params.topics,
		totalPartitions: params.totalPartitions,
		interval:        params.interval,
		maxLen:          params.maxLen,
	}
}

func (t *trimmer) shutdown() {
	t.logger.Debug("Trimmer shutting down...")
	// Signal the trimmer goroutine to stop.
	t.done <- struct{}{}
}

func (t *trimmer) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(t.interval)
		for {
			select {
			case <-t.done:
				t.logger.Debug("Trimmer done")
				timer.Stop()
				return
			case <-timer.C:
				t.exec()
				timer.Reset(t.interval)
			}
		}
	}()
}

func (t *trimmer) exec() {
	ctx := context.Background()
	for _, topic := range t.topics {
		for i := 0; i < t.totalPartitions; i++ {
			stream := base.StreamKey(topic, i)
			if err := t.broker.TrimStream(ctx, stream, t.maxLen); err != nil {
				t.logger.Errorf("Failed to trim stream %q: %v", stream, err)
			}
		}
	}
}
