// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/log"
	"github.com/hemant/qtask/internal/rdb"
	"github.com/hemant/qtask/internal/timeutil"
	"github.com/spf13/cast"
)

// Assignment is the static fleet assignment of one process: this instance's
// index and the total number of instances sharing the group. Owned
// partitions are the indexes i with i mod InstanceCount == InstanceID.
type Assignment = base.Assignment

// Environment variables honored by the default assignment resolver.
const (
	EnvInstanceID    = "INSTANCE_ID"
	EnvInstanceCount = "INSTANCE_COUNT"
)

// AssignmentFromEnv derives the fleet assignment from the INSTANCE_ID and
// INSTANCE_COUNT environment variables. Unset or unparsable values fall back
// to the single-instance defaults (0, 1).
func AssignmentFromEnv() Assignment {
	a := Assignment{InstanceID: 0, InstanceCount: 1}
	if v := os.Getenv(EnvInstanceID); v != "" {
		if id, err := cast.ToIntE(v); err == nil {
			a.InstanceID = id
		}
	}
	if v := os.Getenv(EnvInstanceCount); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			a.InstanceCount = n
		}
	}
	return a
}

// RegisterParams describes one subscription of a handler to a topic.
type RegisterParams struct {
	// Topic is the logical topic to subscribe to.
	Topic string

	// Group is the consumer group name shared by the whole fleet.
	Group string

	// Handler processes delivered messages.
	Handler Handler

	// ErrorHandler observes errors raised inside the consumer loops.
	// Optional; errors are logged either way.
	ErrorHandler ErrorHandler

	// Partitioning overrides the environment-derived fleet assignment.
	Partitioning *Assignment

	// ConsumerIDBase overrides the default "consumer-<group>" prefix of the
	// per-partition consumer identities.
	ConsumerIDBase string

	// BlockTimeout bounds each blocking group-read.
	// Zero means the default of 2 seconds.
	BlockTimeout time.Duration

	// ClaimInterval is the stalled-entry reclaim cadence.
	// Zero means the default of 5 minutes.
	ClaimInterval time.Duration

	// MinIdleTime is how stale a pending entry must be before it is
	// reassigned. It should exceed the typical p99 handler runtime.
	// Zero means the default of 1 minute.
	MinIdleTime time.Duration
}

// consumerManager owns the partition consumers of this process. Given a
// fleet assignment it computes the owned partitions, ensures the consumer
// group exists on each, and starts one partitionConsumer per owned
// partition. The registry is mutated only here and never read from inside
// consumers.
type consumerManager struct {
	logger      *log.Logger
	broker      base.Broker
	clock       timeutil.Clock
	partitioner *Partitioner

	// identity distinguishes this process within the fleet and is part of
	// every consumer identity derived here.
	identity string

	mu              sync.Mutex
	consumers       map[string]*partitionConsumer // guarded by mu
	maxBlockTimeout time.Duration                 // guarded by mu

	// wait group to wait for all consumer goroutines to finish.
	wg sync.WaitGroup
}

type consumerManagerParams struct {
	logger      *log.Logger
	broker      base.Broker
	clock       timeutil.Clock
	partitioner *Partitioner
}

func newConsumerManager(params consumerManagerParams) *consumerManager {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if params.clock == nil {
		params.clock = timeutil.NewRealClock()
	}
	return &consumerManager{
		logger:      params.logger,
		broker:      params.broker,
		clock:       params.clock,
		partitioner: params.partitioner,
		identity:    fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()),
		consumers:   make(map[string]*partitionConsumer),
	}
}

// register validates the subscription, creates the consumer group on every
// owned partition stream, and starts one consumer per owned partition.
func (m *consumerManager) register(params RegisterParams) error {
	if err := base.ValidateTopicName(params.Topic); err != nil {
		return fmt.Errorf("qtask: %v", err)
	}
	if err := base.ValidateGroupName(params.Group); err != nil {
		return fmt.Errorf("qtask: %v", err)
	}
	if params.Handler == nil {
		return fmt.Errorf("qtask: handler must not be nil")
	}

	assignment := AssignmentFromEnv()
	if params.Partitioning != nil {
		assignment = *params.Partitioning
	}
	if err := assignment.Validate(); err != nil {
		return fmt.Errorf("qtask: invalid partitioning: %v", err)
	}

	owned := assignment.OwnedPartitions(m.partitioner.TotalPartitions())
	if len(owned) == 0 {
		// Valid scale-out configuration: more instances than partitions.
		m.logger.Warnf("Registration for topic %q group %q owns no partitions (instance %d of %d)",
			params.Topic, params.Group, assignment.InstanceID, assignment.InstanceCount)
		return nil
	}

	idBase := params.ConsumerIDBase
	if idBase == "" {
		idBase = "consumer-" + params.Group
	}

	ctx := context.Background()
	started := 0
	for _, i := range owned {
		stream := base.StreamKey(params.Topic, i)
		if err := m.broker.CreateGroup(ctx, stream, params.Group); err != nil {
			if rdb.IsConnError(err) {
				// Fatal at startup: nothing else will succeed either.
				return fmt.Errorf("qtask: failed to create group %q on stream %q: %w", params.Group, stream, err)
			}
			// Partial subscription is better than none.
			m.logger.Errorf("Skipping partition %d: failed to create group %q on stream %q: %v",
				i, params.Group, stream, err)
			continue
		}

		consumerID := fmt.Sprintf("%s-%s-%d", idBase, m.identity, i)
		consumer := newPartitionConsumer(partitionConsumerParams{
			logger:        m.logger,
			broker:        m.broker,
			clock:         m.clock,
			stream:        stream,
			group:         params.Group,
			consumerID:    consumerID,
			partition:     i,
			blockTimeout:  params.BlockTimeout,
			claimInterval: params.ClaimInterval,
			minIdleTime:   params.MinIdleTime,
			handler:       params.Handler,
			errHandler:    params.ErrorHandler,
		})

		key := consumer.key()
		m.mu.Lock()
		if _, ok := m.consumers[key]; ok {
			m.mu.Unlock()
			m.logger.Warnf("Consumer %s is already registered; ignoring duplicate registration", key)
			continue
		}
		m.consumers[key] = consumer
		if consumer.blockTimeout > m.maxBlockTimeout {
			m.maxBlockTimeout = consumer.blockTimeout
		}
		m.mu.Unlock()

		consumer.start(&m.wg)
		started++
	}

	m.logger.Infof("Registered %d partition consumers for topic %q group %q (instance %d of %d, partitions %v)",
		started, params.Topic, params.Group, assignment.InstanceID, assignment.InstanceCount, owned)
	return nil
}

// keys returns the registry keys of the currently registered consumers.
func (m *consumerManager) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.consumers))
	for k := range m.consumers {
		keys = append(keys, k)
	}
	return keys
}

// stopConsumer stops and removes a single consumer by its registry key.
func (m *consumerManager) stopConsumer(key string) {
	m.mu.Lock()
	consumer, ok := m.consumers[key]
	delete(m.consumers, key)
	m.mu.Unlock()
	if !ok {
		m.logger.Warnf("No consumer registered under key %q", key)
		return
	}
	consumer.stop()
}

// stopAll stops every registered consumer, clears the registry, then waits
// up to the largest block timeout plus a grace period for the in-flight
// blocking reads to unwind naturally. There is no forced cancellation.
// Calling stopAll again is a no-op.
func (m *consumerManager) stopAll() {
	m.mu.Lock()
	consumers := m.consumers
	m.consumers = make(map[string]*partitionConsumer)
	wait := m.maxBlockTimeout
	m.mu.Unlock()

	if len(consumers) == 0 {
		return
	}
	m.logger.Info("Stopping all partition consumers...")
	for _, consumer := range consumers {
		consumer.stop()
	}
	m.waitWithTimeout(wait + 500*time.Millisecond)
	m.logger.Info("All partition consumers stopped")
}

func (m *consumerManager) waitWithTimeout(d time.Duration) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("Timed out waiting for consumer loops to exit")
	}
}
