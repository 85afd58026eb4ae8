// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package qtask provides a partitioned task queue backed by Redis Streams.

QTask maps a logical topic onto a fixed number of physical streams, one per
partition. Producers publish messages addressed with a partition key; the key
deterministically selects the partition, so messages sharing a key stay
ordered. Workers consume the per-partition streams in parallel with consumer
group semantics: at-least-once delivery, acknowledgement on handler success,
and periodic reclaim of entries whose processing stalled on another member of
the group.

A horizontally scaled fleet cooperates without an external coordinator:
partition ownership is derived statically from each instance's index and the
fleet size (INSTANCE_ID / INSTANCE_COUNT).

# Quick Start

Producer (publish messages):

	qt, err := qtask.New(qtask.Config{
		RedisHost:       "localhost",
		RedisPort:       6379,
		TotalPartitions: 4,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := qt.Connect(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer qt.Shutdown()

	id, err := qt.Publish(context.Background(), "notifications", "user-42",
		map[string]string{"to": "user@example.com", "subject": "hi"})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("published entry %s", id)

Worker (process messages):

	handler := qtask.HandlerFunc(func(ctx context.Context, m *qtask.Message) error {
		to, _ := m.Get("to")
		log.Printf("partition %d entry %s to=%s", m.Partition, m.ID, to)
		return nil // nil return acknowledges the entry
	})

	err = qt.Run(context.Background(), qtask.RegisterParams{
		Topic:   "notifications",
		Group:   "mailer",
		Handler: handler,
	})

# Delivery semantics

Delivery is at least once. A handler that returns an error or panics leaves
the entry in the group's pending list; after it has been idle for MinIdleTime
it becomes a candidate for reclaim by any consumer of the group, including
one in another process. Handlers must therefore be idempotent. Entries of one
partition are delivered to the handler in entry-id order; there is no
ordering across partitions.

# Architecture

QTask uses Redis Streams as the message store. Each partition stream is named
"topic:index". The facade spawns per-partition consumers, each running two
goroutines:

  - Read loop: blocking XREADGROUP for new entries, acknowledged with XACK
    after the handler succeeds
  - Reclaim ticker: periodic XAUTOCLAIM scan that takes over stalled pending
    entries from crashed or wedged consumers

plus two facade-owned background tasks:

  - Healthchecker: periodic ping with a user callback
  - Trimmer: optional approximate XTRIM of the configured topic streams

The store must support XAUTOCLAIM (Redis 6.2 or newer). Against an older
store the consumer degrades to read-only operation: new entries still flow,
stalled entries are not reclaimed.

# Monitoring

QTask includes a small read-only web dashboard. Start it with:

	go run ./ui -redis localhost:6379 -topics notifications -partitions 4

Then visit http://localhost:8080 to view per-partition stream lengths,
groups, and pending counts.
*/
package qtask
