// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines foundational types and constants used in qtask package.
package base

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hemant/qtask/internal/errors"
	"github.com/spf13/cast"
)

// Version of qtask library.
const Version = "1.0.0"

// Field names reserved by the payload encoding.
const (
	// MessageField carries payloads that are not flat string mappings.
	MessageField = "message"

	// PlaceholderField marks an entry produced from an empty mapping,
	// so that the entry is still addressable.
	PlaceholderField      = "_placeholder"
	PlaceholderEmptyValue = "empty_object"
)

// StreamKey returns the physical stream name for the given topic and
// partition index. The naming scheme is the wire contract between producer
// and consumer fleets.
func StreamKey(topic string, partition int) string {
	return topic + ":" + cast.ToString(partition)
}

// ConsumerKey returns the registry key identifying a partition consumer.
func ConsumerKey(stream, group, consumerID string) string {
	return fmt.Sprintf("%s:%s:%s", stream, group, consumerID)
}

// ValidateTopicName validates a given name to be used as a topic name.
// Returns nil if valid, otherwise returns non-nil error.
func ValidateTopicName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return fmt.Errorf("topic name must contain one or more characters")
	}
	return nil
}

// ValidateGroupName validates a given name to be used as a consumer group name.
// Returns nil if valid, otherwise returns non-nil error.
func ValidateGroupName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return fmt.Errorf("group name must contain one or more characters")
	}
	return nil
}

// Entry is a single record read from a partition stream.
// Fields holds the raw flat field/value list exactly as the store returned it.
type Entry struct {
	ID     string
	Fields []string
}

// Field is a single key/value pair of a message.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered field/value list. Unlike a Go map it preserves
// insertion order, which the stream store keeps on the wire.
type Fields []Field

// Get returns the value for the first field with the given key.
func (f Fields) Get(key string) (string, bool) {
	for _, kv := range f {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a plain map. Order and duplicate keys are lost.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, kv := range f {
		if _, ok := m[kv.Key]; !ok {
			m[kv.Key] = kv.Value
		}
	}
	return m
}

// Flatten returns the fields as a flat [key, value, key, value, ...] list.
func (f Fields) Flatten() []string {
	out := make([]string, 0, 2*len(f))
	for _, kv := range f {
		out = append(out, kv.Key, kv.Value)
	}
	return out
}

// PairFields reconstructs an ordered field list from a flat field/value list.
// Lists that are empty or of odd length cannot be interpreted pairwise and
// return an error.
func PairFields(flat []string) (Fields, error) {
	if len(flat) == 0 {
		return nil, fmt.Errorf("empty field list")
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd field list length %d", len(flat))
	}
	fields := make(Fields, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		fields = append(fields, Field{Key: flat[i], Value: flat[i+1]})
	}
	return fields, nil
}

// EncodePayload converts a user payload into the flat field/value list
// appended to the stream.
//
// A flat string mapping is flattened to its field/value pairs. Go maps carry
// no insertion order, so map payloads are flattened in sorted key order; use
// the ordered Fields type when field order matters. A mapping with a nil
// value, or with a value that has no textual representation, is encoded
// whole as JSON under the "message" field. An empty mapping is encoded as
// the placeholder pair. A string payload is carried verbatim under
// "message". Everything else is encoded as JSON under "message".
func EncodePayload(payload interface{}) ([]string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, errors.E(errors.Op("base.EncodePayload"), errors.FailedPrecondition, "payload must not be nil")
	case string:
		return []string{MessageField, p}, nil
	case Fields:
		if len(p) == 0 {
			return []string{PlaceholderField, PlaceholderEmptyValue}, nil
		}
		return p.Flatten(), nil
	case map[string]string:
		if len(p) == 0 {
			return []string{PlaceholderField, PlaceholderEmptyValue}, nil
		}
		flat := make([]string, 0, 2*len(p))
		for _, k := range sortedKeys(p) {
			flat = append(flat, k, p[k])
		}
		return flat, nil
	case map[string]interface{}:
		if len(p) == 0 {
			return []string{PlaceholderField, PlaceholderEmptyValue}, nil
		}
		flat := make([]string, 0, 2*len(p))
		for _, k := range sortedKeysAny(p) {
			v := p[k]
			if v == nil {
				return encodeJSON(payload)
			}
			s, err := cast.ToStringE(v)
			if err != nil {
				return encodeJSON(payload)
			}
			flat = append(flat, k, s)
		}
		return flat, nil
	default:
		return encodeJSON(payload)
	}
}

func encodeJSON(payload interface{}) ([]string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.E(errors.Op("base.EncodePayload"), errors.Internal, err)
	}
	return []string{MessageField, string(b)}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAny(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Assignment is the static fleet assignment of one process.
// It is immutable for the lifetime of the process.
type Assignment struct {
	InstanceID    int
	InstanceCount int
}

// Validate returns nil if the assignment is internally consistent.
func (a Assignment) Validate() error {
	if a.InstanceCount < 1 {
		return fmt.Errorf("instance count must be >= 1, got %d", a.InstanceCount)
	}
	if a.InstanceID < 0 || a.InstanceID >= a.InstanceCount {
		return fmt.Errorf("instance id must be in [0, %d), got %d", a.InstanceCount, a.InstanceID)
	}
	return nil
}

// OwnedPartitions returns the partition indexes owned by this instance.
// The union across all members of a consistent fleet covers
// [0, totalPartitions) with no overlap.
func (a Assignment) OwnedPartitions(totalPartitions int) []int {
	var owned []int
	for i := 0; i < totalPartitions; i++ {
		if i%a.InstanceCount == a.InstanceID {
			owned = append(owned, i)
		}
	}
	return owned
}

// Broker is the capability surface over the stream store used by qtask.
//
// See rdb.RDB as a reference implementation.
type Broker interface {
	Ping(ctx context.Context) error
	Close() error

	// Append appends the flat field/value list to the stream.
	// An empty id requests a server-assigned entry id.
	Append(ctx context.Context, stream, id string, values []string) (string, error)

	// ReadGroup issues a blocking group-read for new entries.
	// A nil result with nil error means the block timeout elapsed.
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) ([]*Entry, error)

	// Ack acknowledges the given entry ids for the group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// CreateGroup creates the consumer group on the stream, creating the
	// stream if needed. Creating a group that already exists is not an error.
	CreateGroup(ctx context.Context, stream, group string) error

	// AutoClaim transfers ownership of pending entries idle for at least
	// minIdle to the given consumer, scanning from start. It returns the
	// claimed entries and the cursor for the next scan.
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]*Entry, string, error)

	// TrimStream trims the stream to approximately maxLen entries.
	TrimStream(ctx context.Context, stream string, maxLen int64) error
}
