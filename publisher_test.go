// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, totalPartitions int) (*Publisher, *fakeBroker) {
	t.Helper()
	partitioner, err := NewPartitioner(totalPartitions)
	require.NoError(t, err)
	broker := newFakeBroker()
	p := newPublisher(publisherParams{
		logger:      testLogger(),
		broker:      broker,
		partitioner: partitioner,
	})
	return p, broker
}

func TestPublishRoutesByPartitionKey(t *testing.T) {
	p, broker := newTestPublisher(t, 4)

	// hash("abc") = 96354; 96354 mod 4 = 2.
	_, err := p.Publish(context.Background(), "T", "abc", map[string]string{"to": "x"})
	require.NoError(t, err)

	appends := broker.appended()
	require.Len(t, appends, 1)
	assert.Equal(t, "T:2", appends[0].stream)
	assert.Equal(t, []string{"to", "x"}, appends[0].values)
}

func TestPublishEncodings(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		want    []string
	}{
		{"string", "hello", []string{"message", "hello"}},
		{"flat map", map[string]interface{}{"a": 1, "b": 2}, []string{"a", "1", "b", "2"}},
		{"empty map", map[string]string{}, []string{"_placeholder", "empty_object"}},
		{"slice", []int{1, 2}, []string{"message", "[1,2]"}},
		{"number", 42, []string{"message", "42"}},
		{"ordered fields", Fields{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}}, []string{"z", "1", "a", "2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, broker := newTestPublisher(t, 4)
			_, err := p.Publish(context.Background(), "T", "k", tc.payload)
			require.NoError(t, err)
			appends := broker.appended()
			require.Len(t, appends, 1)
			assert.Equal(t, tc.want, appends[0].values)
		})
	}
}

func TestPublishWithEntryID(t *testing.T) {
	p, broker := newTestPublisher(t, 1)
	id, err := p.Publish(context.Background(), "T", "k", "hello", WithEntryID("5-1"))
	require.NoError(t, err)
	assert.Equal(t, "5-1", id)
	appends := broker.appended()
	require.Len(t, appends, 1)
	assert.Equal(t, "5-1", appends[0].id)
}

func TestPublishInvalidArguments(t *testing.T) {
	p, broker := newTestPublisher(t, 4)
	tests := []struct {
		name    string
		topic   string
		key     interface{}
		payload interface{}
	}{
		{"empty topic", "", "k", "p"},
		{"blank topic", "   ", "k", "p"},
		{"nil key", "T", nil, "p"},
		{"nil payload", "T", "k", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Publish(context.Background(), tc.topic, tc.key, tc.payload)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	// No append was performed for any of them.
	assert.Empty(t, broker.appended())
}

func TestPublishConnErrorReportsNotConnected(t *testing.T) {
	p, broker := newTestPublisher(t, 4)
	broker.appendErr = fmt.Errorf("dial tcp 127.0.0.1:6379: connection refused")
	_, err := p.Publish(context.Background(), "T", "k", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishOtherErrorsSurface(t *testing.T) {
	p, broker := newTestPublisher(t, 4)
	broker.appendErr = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	_, err := p.Publish(context.Background(), "T", "k", "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

func TestPublishNonStringKeyCoerced(t *testing.T) {
	p4, broker := newTestPublisher(t, 4)
	_, err := p4.Publish(context.Background(), "T", 123, "hello")
	require.NoError(t, err)

	// The integer key is hashed by its textual representation.
	partitioner, err := NewPartitioner(4)
	require.NoError(t, err)
	idx, err := partitioner.PartitionFor("123")
	require.NoError(t, err)

	appends := broker.appended()
	require.Len(t, appends, 1)
	assert.Equal(t, fmt.Sprintf("T:%d", idx), appends[0].stream)
}
