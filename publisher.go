// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"fmt"

	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/log"
	"github.com/hemant/qtask/internal/rdb"
)

// PublishOption configures a single publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	id string
}

// WithEntryID requests an explicit entry id instead of a server-assigned one.
func WithEntryID(id string) PublishOption {
	return func(o *publishOptions) { o.id = id }
}

// Publisher encodes user payloads and appends them to the partition stream
// selected by the partition key.
type Publisher struct {
	logger      *log.Logger
	broker      base.Broker
	partitioner *Partitioner
}

type publisherParams struct {
	logger      *log.Logger
	broker      base.Broker
	partitioner *Partitioner
}

func newPublisher(params publisherParams) *Publisher {
	return &Publisher{
		logger:      params.logger,
		broker:      params.broker,
		partitioner: params.partitioner,
	}
}

// Publish appends the payload to the partition stream of topic selected by
// key and returns the entry id. The same key always selects the same
// partition, so entries sharing a key are totally ordered.
//
// Publish does not retry: a failed append is logged and returned to the
// caller. A store connectivity failure is reported as ErrNotConnected and is
// recoverable by retrying once the store is back.
func (p *Publisher) Publish(ctx context.Context, topic string, key, payload interface{}, opts ...PublishOption) (string, error) {
	if err := base.ValidateTopicName(topic); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if key == nil {
		return "", fmt.Errorf("%w: partition key must not be nil", ErrInvalidArgument)
	}
	if payload == nil {
		return "", fmt.Errorf("%w: payload must not be nil", ErrInvalidArgument)
	}

	index, err := p.partitioner.PartitionFor(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	stream, err := p.partitioner.StreamName(topic, index)
	if err != nil {
		return "", err
	}
	values, err := base.EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var options publishOptions
	for _, opt := range opts {
		opt(&options)
	}

	entryID, err := p.broker.Append(ctx, stream, options.id, values)
	if err != nil {
		p.logger.Errorf("Failed to publish to stream %q: %v", stream, err)
		if rdb.IsConnError(err) {
			return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return "", err
	}
	p.logger.Debugf("Published entry %s to stream %q", entryID, stream)
	return entryID, nil
}
