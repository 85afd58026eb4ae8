// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/log"
	"github.com/hemant/qtask/internal/rdb"
	"github.com/hemant/qtask/internal/timeutil"
	"github.com/redis/go-redis/v9"
)

// ErrNotConnected indicates that the operation requires a live store session:
// Connect has not succeeded yet, or the client has been shut down.
var ErrNotConnected = errors.New("qtask: not connected to the stream store")

// ErrInvalidArgument indicates a missing or malformed argument; the operation
// was not performed.
var ErrInvalidArgument = errors.New("qtask: invalid argument")

// ErrInvalidPartitionIndex indicates a partition index outside
// [0, totalPartitions).
var ErrInvalidPartitionIndex = errors.New("qtask: partition index out of range")

// QTask composes the partitioner, publisher, and consumer manager behind a
// minimal lifecycle: New, Connect, Register/Publish, Shutdown.
type QTask struct {
	logger      *log.Logger
	config      Config
	partitioner *Partitioner
	clock       timeutil.Clock

	mu    sync.Mutex
	state facadeStateValue // guarded by mu

	// When the facade has been connected with an existing redis connection,
	// we do not want to close it.
	sharedConnection bool

	broker        base.Broker
	publisher     *Publisher
	manager       *consumerManager
	healthchecker *healthchecker
	trimmer       *trimmer

	// wait group to wait for the facade-owned background goroutines.
	wg sync.WaitGroup
}

type facadeStateValue int

const (
	facadeStateNew facadeStateValue = iota
	facadeStateConnected
	facadeStateClosed
)

// New validates the configuration and returns an unconnected QTask.
// The partitioner and logger are built eagerly; the publisher, consumer
// manager, and store session are deferred to Connect.
func New(cfg Config) (*QTask, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	partitioner, err := NewPartitioner(cfg.TotalPartitions)
	if err != nil {
		return nil, err
	}
	return &QTask{
		logger:      newFacadeLogger(cfg),
		config:      cfg,
		partitioner: partitioner,
		clock:       timeutil.NewRealClock(),
		state:       facadeStateNew,
	}, nil
}

func newFacadeLogger(cfg Config) *log.Logger {
	var logger *log.Logger
	if cfg.Logger != nil {
		logger = log.NewLogger(cfg.Logger)
	} else {
		logger = log.NewLogger(log.NewBaseWithOptions(os.Stderr, log.Options{
			ServiceName:     cfg.LogServiceName,
			UseColors:       cfg.LogUseColors,
			TimestampFormat: cfg.LogTimestampFormat,
		}))
	}
	level := cfg.LogLevel
	if level == level_unspecified {
		level = InfoLevel
	}
	logger.SetLevel(toInternalLogLevel(level))
	return logger
}

// Connect establishes the store session and initializes the publisher and
// consumer manager. Connecting an already connected client is a no-op; a
// client that has been shut down cannot be reconnected.
func (q *QTask) Connect(ctx context.Context) error {
	client := redis.NewClient(q.config.redisOptions())
	if err := q.connect(ctx, rdb.NewRDB(client), false); err != nil {
		client.Close()
		return err
	}
	return nil
}

// ConnectFromRedisClient is like Connect but reuses an existing redis
// connection, which the facade will not close on Shutdown.
func (q *QTask) ConnectFromRedisClient(ctx context.Context, client redis.UniversalClient) error {
	return q.connect(ctx, rdb.NewRDB(client), true)
}

func (q *QTask) connect(ctx context.Context, broker base.Broker, shared bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.state {
	case facadeStateConnected:
		q.logger.Warn("Connect called on an already connected client")
		return nil
	case facadeStateClosed:
		return ErrNotConnected
	}

	if err := broker.Ping(ctx); err != nil {
		return err
	}

	q.broker = broker
	q.sharedConnection = shared
	q.publisher = newPublisher(publisherParams{
		logger:      q.logger,
		broker:      broker,
		partitioner: q.partitioner,
	})
	q.manager = newConsumerManager(consumerManagerParams{
		logger:      q.logger,
		broker:      broker,
		clock:       q.clock,
		partitioner: q.partitioner,
	})
	q.healthchecker = newHealthChecker(healthcheckerParams{
		logger:          q.logger,
		broker:          broker,
		interval:        q.config.HealthCheckInterval,
		healthcheckFunc: q.config.HealthCheckFunc,
	})
	q.healthchecker.start(&q.wg)
	if q.config.TrimMaxLen > 0 && len(q.config.TrimTopics) > 0 {
		q.trimmer = newTrimmer(trimmerParams{
			logger:          q.logger,
			broker:          broker,
			topics:          q.config.TrimTopics,
			totalPartitions: q.partitioner.TotalPartitions(),
			interval:        q.config.TrimInterval,
			maxLen:          q.config.TrimMaxLen,
		})
		q.trimmer.start(&q.wg)
	}
	q.state = facadeStateConnected
	q.logger.Infof("Connected to stream store at %s:%d (%d partitions per topic)",
		q.config.RedisHost, q.config.RedisPort, q.partitioner.TotalPartitions())
	return nil
}

// Register subscribes a handler to a topic: the consumer group is created on
// every owned partition stream and one partition consumer is started per
// owned partition. It fails with ErrNotConnected before Connect or after
// Shutdown.
func (q *QTask) Register(params RegisterParams) error {
	q.mu.Lock()
	manager := q.manager
	connected := q.state == facadeStateConnected
	q.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return manager.register(params)
}

// Publish appends the payload to the partition stream of topic selected by
// key. It fails with ErrNotConnected before Connect or after Shutdown.
func (q *QTask) Publish(ctx context.Context, topic string, key, payload interface{}, opts ...PublishOption) (string, error) {
	q.mu.Lock()
	publisher := q.publisher
	connected := q.state == facadeStateConnected
	q.mu.Unlock()
	if !connected {
		return "", ErrNotConnected
	}
	return publisher.Publish(ctx, topic, key, payload, opts...)
}

// Stop stops all partition consumers but keeps the store session open, so
// publishing still works and consumption can be re-registered. Used for
// pausing a worker without tearing it down.
func (q *QTask) Stop() {
	q.mu.Lock()
	manager := q.manager
	q.mu.Unlock()
	if manager == nil {
		return
	}
	q.logger.Info("Stopping consumption")
	manager.stopAll()
}

// ConsumerKeys returns the registry keys ("stream:group:consumerID") of the
// partition consumers currently owned by this process.
func (q *QTask) ConsumerKeys() []string {
	q.mu.Lock()
	manager := q.manager
	q.mu.Unlock()
	if manager == nil {
		return nil
	}
	return manager.keys()
}

// StopConsumer stops and deregisters a single partition consumer by its
// registry key. The other consumers keep running.
func (q *QTask) StopConsumer(key string) {
	q.mu.Lock()
	manager := q.manager
	q.mu.Unlock()
	if manager == nil {
		return
	}
	manager.stopConsumer(key)
}

// Shutdown stops the consumer manager, the background tasks, and closes the
// store session. Subsequent calls to Register and Publish fail with
// ErrNotConnected. Shutdown is idempotent.
func (q *QTask) Shutdown() {
	q.mu.Lock()
	if q.state != facadeStateConnected {
		q.mu.Unlock()
		return
	}
	q.state = facadeStateClosed
	manager := q.manager
	broker := q.broker
	healthchecker := q.healthchecker
	trimmer := q.trimmer
	q.mu.Unlock()

	q.logger.Info("Starting graceful shutdown")
	manager.stopAll()
	if trimmer != nil {
		trimmer.shutdown()
	}
	healthchecker.shutdown()
	q.wg.Wait()

	if !q.sharedConnection {
		if err := broker.Close(); err != nil {
			q.logger.Errorf("Failed to close store session: %v", err)
		}
	}
	q.logger.Info("Shutdown complete")
}

// Ping performs a ping against the store session.
func (q *QTask) Ping(ctx context.Context) error {
	q.mu.Lock()
	broker := q.broker
	connected := q.state == facadeStateConnected
	q.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return broker.Ping(ctx)
}

// Run connects if needed, registers the subscription, and blocks until an os
// signal to exit the program is received. Once it receives a signal, it
// gracefully shuts down the consumers and the store session.
func (q *QTask) Run(ctx context.Context, params RegisterParams) error {
	q.mu.Lock()
	needConnect := q.state == facadeStateNew
	q.mu.Unlock()
	if needConnect {
		if err := q.Connect(ctx); err != nil {
			return err
		}
	}
	if err := q.Register(params); err != nil {
		return err
	}
	q.waitForSignals()
	q.Shutdown()
	return nil
}
