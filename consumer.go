// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/log"
	"github.com/hemant/qtask/internal/rdb"
	"github.com/hemant/qtask/internal/timeutil"
	"golang.org/x/time/rate"
)

const (
	defaultBlockTimeout  = 2 * time.Second
	defaultClaimInterval = 5 * time.Minute
	defaultMinIdleTime   = 1 * time.Minute

	// Each reclaim scan restarts from the beginning of the pending list.
	// Not persisting the cursor keeps the consumer stateless between ticks
	// at a bounded catch-up cost per tick.
	reclaimStartID   = "0-0"
	reclaimBatchSize = 10
)

type consumerStateValue int

const (
	consumerStateIdle consumerStateValue = iota
	consumerStateRunning
	consumerStateStopping
	consumerStateStopped
)

var consumerStates = []string{
	"idle",
	"running",
	"stopping",
	"stopped",
}

func (v consumerStateValue) String() string {
	if consumerStateIdle <= v && v <= consumerStateStopped {
		return consumerStates[v]
	}
	return "unknown state"
}

// partitionConsumer is a long-running worker bound to a single
// (stream, group, consumerID) triple. While running it executes two
// concurrent activities: a blocking read loop for new entries and a periodic
// reclaim scan for pending entries whose processing stalled elsewhere in the
// group. The two share only the consumer's state and logger.
type partitionConsumer struct {
	logger *log.Logger
	broker base.Broker
	clock  timeutil.Clock

	stream     string
	group      string
	consumerID string
	partition  int

	// blockTimeout bounds each group-read and therefore how long a stopping
	// consumer waits before observing the stop flag.
	blockTimeout time.Duration

	// claimInterval is the reclaim scan cadence.
	claimInterval time.Duration

	// minIdleTime is the lower bound on how stale a pending entry must be
	// before it is reassigned. It should exceed the typical p99 handler
	// runtime.
	minIdleTime time.Duration

	handler    Handler
	errHandler ErrorHandler

	mu    sync.Mutex
	state consumerStateValue // guarded by mu

	// done is closed exactly once when the consumer leaves the running
	// state; it wakes retry sleeps and cancels the reclaim ticker.
	done     chan struct{}
	stopOnce sync.Once

	// logLimiter throttles error log lines when the store is flapping.
	// The error hook itself fires for every error.
	logLimiter *rate.Limiter
}

type partitionConsumerParams struct {
	logger     *log.Logger
	broker     base.Broker
	clock      timeutil.Clock
	stream     string
	group      string
	consumerID string
	partition  int

	blockTimeout  time.Duration
	claimInterval time.Duration
	minIdleTime   time.Duration

	handler    Handler
	errHandler ErrorHandler
}

func newPartitionConsumer(params partitionConsumerParams) *partitionConsumer {
	if params.blockTimeout <= 0 {
		params.blockTimeout = defaultBlockTimeout
	}
	if params.claimInterval <= 0 {
		params.claimInterval = defaultClaimInterval
	}
	if params.minIdleTime <= 0 {
		params.minIdleTime = defaultMinIdleTime
	}
	if params.clock == nil {
		params.clock = timeutil.NewRealClock()
	}
	return &partitionConsumer{
		logger:        params.logger,
		broker:        params.broker,
		clock:         params.clock,
		stream:        params.stream,
		group:         params.group,
		consumerID:    params.consumerID,
		partition:     params.partition,
		blockTimeout:  params.blockTimeout,
		claimInterval: params.claimInterval,
		minIdleTime:   params.minIdleTime,
		handler:       params.handler,
		errHandler:    params.errHandler,
		state:         consumerStateIdle,
		done:          make(chan struct{}),
		logLimiter:    rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

// key returns the registry key uniquely identifying this consumer.
func (c *partitionConsumer) key() string {
	return base.ConsumerKey(c.stream, c.group, c.consumerID)
}

// start launches the read loop and the reclaim ticker.
// Starting an already running or stopped consumer is a warning no-op.
func (c *partitionConsumer) start(wg *sync.WaitGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case consumerStateRunning:
		c.logger.Warnf("Consumer %s is already running", c.consumerID)
		return
	case consumerStateStopping, consumerStateStopped:
		c.logger.Warnf("Consumer %s has been stopped and cannot be restarted", c.consumerID)
		return
	}
	c.state = consumerStateRunning
	c.logger.Infof("Consumer %s starting on stream %s (group %s)", c.consumerID, c.stream, c.group)

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.reclaimLoop()
	}()
}

// stop requests a cooperative shutdown. The read loop observes the request
// within blockTimeout in the worst case; the reclaim ticker is canceled
// immediately. Stopping a stopped consumer is a no-op.
func (c *partitionConsumer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case consumerStateIdle:
		// Never started; nothing is running.
		c.state = consumerStateStopped
		return
	case consumerStateStopping, consumerStateStopped:
		return
	}
	c.state = consumerStateStopping
	c.logger.Debugf("Consumer %s stopping...", c.consumerID)
	c.cancel()
}

// cancel closes the done channel exactly once.
func (c *partitionConsumer) cancel() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *partitionConsumer) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == consumerStateRunning
}

// setStopped marks the terminal state and makes sure the reclaim ticker is
// canceled, which matters when the read loop dies without a stop request.
func (c *partitionConsumer) setStopped() {
	c.mu.Lock()
	c.state = consumerStateStopped
	c.mu.Unlock()
	c.cancel()
}

// readLoop repeatedly issues a blocking group-read for new entries and routes
// each returned batch to the handler. The running flag is observed after
// every blocking call.
func (c *partitionConsumer) readLoop() {
	defer func() {
		if p := recover(); p != nil {
			c.emitError(fmt.Errorf("read loop panic: %v", p), "fatal_loop_error")
		}
		c.setStopped()
		c.logger.Debugf("Consumer %s: read loop done", c.consumerID)
	}()

	ctx := context.Background()
	for c.running() {
		entries, err := c.broker.ReadGroup(ctx, c.stream, c.group, c.consumerID, c.blockTimeout)
		if err != nil {
			c.handleReadError(ctx, err)
			continue
		}
		// A nil batch means the block timeout elapsed with no new entries.
		for _, entry := range entries {
			c.deliver(ctx, entry)
		}
	}
}

func (c *partitionConsumer) handleReadError(ctx context.Context, err error) {
	switch {
	case rdb.IsConnError(err):
		c.emitError(err, "readloop_redis_conn")
		c.sleep(maxDuration(c.blockTimeout, 5*time.Second))
	case rdb.IsNoGroup(err):
		c.emitError(err, "readloop_nogroup")
		if cerr := c.broker.CreateGroup(ctx, c.stream, c.group); cerr != nil {
			c.logger.Errorf("Consumer %s: failed to recreate group %q on stream %q: %v", c.consumerID, c.group, c.stream, cerr)
		}
		c.sleep(5 * time.Second)
	default:
		c.emitError(err, "readloop_xreadgroup")
		c.sleep(2 * time.Second)
	}
}

// reclaimLoop periodically transfers ownership of stale pending entries to
// this consumer. A failure inside a tick never cancels the ticker; the only
// way the loop ends early is a store that does not support XAUTOCLAIM.
func (c *partitionConsumer) reclaimLoop() {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			c.logger.Debugf("Consumer %s: reclaim ticker canceled", c.consumerID)
			return
		case <-ticker.C:
			if !c.running() {
				return
			}
			if !c.reclaim(ctx) {
				return
			}
		}
	}
}

// reclaim runs one XAUTOCLAIM scan and routes claimed entries through the
// regular delivery path. The returned cursor is deliberately ignored: every
// scan restarts at reclaimStartID. It returns false when reclaiming must
// stop permanently.
func (c *partitionConsumer) reclaim(ctx context.Context) bool {
	entries, _, err := c.broker.AutoClaim(ctx, c.stream, c.group, c.consumerID, c.minIdleTime, reclaimStartID, reclaimBatchSize)
	if err != nil {
		switch {
		case rdb.IsUnsupportedCommand(err):
			c.emitError(err, "autoclaim_unsupported")
			c.logger.Warnf("Consumer %s: store does not support XAUTOCLAIM; stalled-message reclaim disabled, continuing read-only", c.consumerID)
			return false
		case rdb.IsConnError(err):
			c.emitError(err, "autoclaim_redis_conn")
		case rdb.IsNoGroup(err):
			c.emitError(err, "autoclaim_nogroup")
			if cerr := c.broker.CreateGroup(ctx, c.stream, c.group); cerr != nil {
				c.logger.Errorf("Consumer %s: failed to recreate group %q on stream %q: %v", c.consumerID, c.group, c.stream, cerr)
			}
		default:
			c.emitError(err, "autoclaim")
		}
		return true
	}
	if len(entries) > 0 {
		c.logger.Infof("Consumer %s: reclaimed %d stalled entries from stream %s", c.consumerID, len(entries), c.stream)
	}
	for _, entry := range entries {
		c.deliver(ctx, entry)
	}
	return true
}

// deliver reconstructs a message from the entry and invokes the handler.
// The entry is acknowledged if and only if the handler returns nil; on
// handler error the entry stays in the pending list and becomes a reclaim
// candidate after minIdleTime.
func (c *partitionConsumer) deliver(ctx context.Context, entry *base.Entry) {
	fields, err := base.PairFields(entry.Fields)
	if err != nil {
		c.logger.Warnf("Consumer %s: dropping entry %s from stream %s: %v", c.consumerID, entry.ID, c.stream, err)
		c.emitError(err, "parse_message_"+entry.ID)
		return
	}
	msg := &Message{
		ID:          entry.ID,
		Fields:      fields,
		Partition:   c.partition,
		Stream:      c.stream,
		DeliveredAt: c.clock.Now(),
	}
	if err := c.process(ctx, msg); err != nil {
		c.logger.Errorf("Consumer %s: handler failed for entry %s on partition %d: %v", c.consumerID, msg.ID, c.partition, err)
		return
	}
	if err := c.broker.Ack(ctx, c.stream, c.group, msg.ID); err != nil {
		c.logger.Errorf("Consumer %s: failed to ack entry %s on stream %s: %v", c.consumerID, msg.ID, c.stream, err)
	}
}

// process invokes the handler, converting a panic into an error so that a
// panicking handler suppresses the ack like any other handler failure.
func (c *partitionConsumer) process(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return c.handler.ProcessMessage(ctx, msg)
}

func (c *partitionConsumer) emitError(err error, errContext string) {
	if c.logLimiter.Allow() {
		c.logger.Errorf("Consumer %s: %s: %v", c.consumerID, errContext, err)
	}
	if c.errHandler != nil {
		c.errHandler.HandleError(err, errContext)
	}
}

// sleep waits for d or until the consumer is stopped, whichever comes first.
func (c *partitionConsumer) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.done:
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
