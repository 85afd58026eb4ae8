// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package rdb encapsulates the interactions with redis.
package rdb

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hemant/qtask/internal/base"
	"github.com/hemant/qtask/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// RDB is a client interface to query and mutate stream structures in redis.
// It implements base.Broker.
type RDB struct {
	client redis.UniversalClient
}

// NewRDB returns a new instance of RDB.
func NewRDB(client redis.UniversalClient) *RDB {
	return &RDB{client: client}
}

// Close closes the connection with redis server.
func (r *RDB) Close() error {
	return r.client.Close()
}

// Client returns the reference to underlying redis client.
func (r *RDB) Client() redis.UniversalClient {
	return r.client
}

// Ping checks the connection with redis server.
func (r *RDB) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.E(errors.Op("rdb.Ping"), classify(err), err)
	}
	return nil
}

// Append appends the flat field/value list to the stream with XADD.
// An empty id requests a server-assigned entry id.
func (r *RDB) Append(ctx context.Context, stream, id string, values []string) (string, error) {
	var op errors.Op = "rdb.Append"
	if id == "" {
		id = "*"
	}
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	res, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     id,
		Values: vals,
	}).Result()
	if err != nil {
		return "", errors.E(op, classify(err), err)
	}
	return res, nil
}

// ReadGroup issues a blocking group-read for new entries:
//
//	XREADGROUP GROUP group consumer BLOCK ms STREAMS stream ">"
//
// The command is sent raw so that the field order of each entry is preserved
// exactly as the store returned it. A nil result with nil error means the
// block timeout elapsed with no new entries.
func (r *RDB) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) ([]*base.Entry, error) {
	var op errors.Op = "rdb.ReadGroup"
	reply, err := r.client.Do(ctx,
		"xreadgroup", "group", group, consumer,
		"block", int64(block/time.Millisecond),
		"streams", stream, ">",
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.E(op, classify(err), err)
	}
	entries, err := parseReadReply(reply, stream)
	if err != nil {
		return nil, errors.E(op, errors.Internal, err)
	}
	return entries, nil
}

// Ack acknowledges the given entry ids for the group with XACK.
func (r *RDB) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := r.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return errors.E(errors.Op("rdb.Ack"), classify(err), err)
	}
	return nil
}

// CreateGroup creates the consumer group on the stream from the beginning of
// history, creating the stream if needed:
//
//	XGROUP CREATE stream group "0" MKSTREAM
//
// A BUSYGROUP response means the group already exists and is treated as
// success.
func (r *RDB) CreateGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return errors.E(errors.Op("rdb.CreateGroup"), classify(err), err)
	}
	return nil
}

// AutoClaim transfers ownership of pending entries idle for at least minIdle
// to the given consumer:
//
//	XAUTOCLAIM stream group consumer minIdleMs start COUNT count
//
// It returns the claimed entries and the cursor for the next scan.
func (r *RDB) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]*base.Entry, string, error) {
	var op errors.Op = "rdb.AutoClaim"
	reply, err := r.client.Do(ctx,
		"xautoclaim", stream, group, consumer,
		int64(minIdle/time.Millisecond), start,
		"count", count,
	).Result()
	if err != nil {
		return nil, "", errors.E(op, classify(err), err)
	}
	entries, cursor, err := parseAutoClaimReply(reply)
	if err != nil {
		return nil, "", errors.E(op, errors.Internal, err)
	}
	return entries, cursor, nil
}

// TrimStream trims the stream to approximately maxLen entries with
// XTRIM MAXLEN ~.
func (r *RDB) TrimStream(ctx context.Context, stream string, maxLen int64) error {
	if err := r.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err(); err != nil {
		return errors.E(errors.Op("rdb.TrimStream"), classify(err), err)
	}
	return nil
}

// parseReadReply parses an XREADGROUP reply into entries for the given
// stream. The reply is an array of [stream, entries] pairs under RESP2 and a
// stream-keyed map under RESP3; both shapes are accepted.
func parseReadReply(reply interface{}, stream string) ([]*base.Entry, error) {
	switch rep := reply.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		for _, item := range rep {
			pair, ok := item.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, errors.New("malformed xreadgroup stream element")
			}
			name, err := cast.ToStringE(pair[0])
			if err != nil {
				return nil, err
			}
			if name != stream {
				continue
			}
			return parseEntryList(pair[1])
		}
		return nil, nil
	case map[interface{}]interface{}:
		for k, v := range rep {
			name, err := cast.ToStringE(k)
			if err != nil {
				return nil, err
			}
			if name != stream {
				continue
			}
			return parseEntryList(v)
		}
		return nil, nil
	case map[string]interface{}:
		for name, v := range rep {
			if name != stream {
				continue
			}
			return parseEntryList(v)
		}
		return nil, nil
	default:
		return nil, errors.New("unexpected xreadgroup reply type")
	}
}

// parseAutoClaimReply parses an XAUTOCLAIM reply: [cursor, entries] with an
// optional trailing list of deleted entry ids on newer server versions.
func parseAutoClaimReply(reply interface{}) ([]*base.Entry, string, error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, "", errors.New("unexpected xautoclaim reply type")
	}
	cursor, err := cast.ToStringE(parts[0])
	if err != nil {
		return nil, "", err
	}
	entries, err := parseEntryList(parts[1])
	if err != nil {
		return nil, "", err
	}
	return entries, cursor, nil
}

func parseEntryList(v interface{}) ([]*base.Entry, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("malformed entry list")
	}
	var entries []*base.Entry
	for _, item := range list {
		if item == nil {
			// XAUTOCLAIM reports entries deleted from the stream as nil
			// on older server versions.
			continue
		}
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, errors.New("malformed entry element")
		}
		id, err := cast.ToStringE(pair[0])
		if err != nil {
			return nil, err
		}
		fields, err := parseFieldList(pair[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, &base.Entry{ID: id, Fields: fields})
	}
	return entries, nil
}

func parseFieldList(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("malformed field list")
	}
	fields := make([]string, 0, len(list))
	for _, f := range list {
		s, err := cast.ToStringE(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, s)
	}
	return fields, nil
}

// classify maps a redis error to its canonical code.
func classify(err error) errors.Code {
	switch {
	case isConnError(err):
		return errors.Unavailable
	case isNoGroup(err):
		return errors.NotFound
	case isUnknownCommand(err):
		return errors.Unimplemented
	default:
		return errors.Unknown
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout")
}

func isNoGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isUnknownCommand(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown command")
}

// IsConnError reports whether the error indicates the store is unreachable
// or the session has ended.
func IsConnError(err error) bool {
	return errors.CanonicalCode(err) == errors.Unavailable || isConnError(err)
}

// IsNoGroup reports whether the error is a NOGROUP response, meaning the
// stream or the consumer group does not exist.
func IsNoGroup(err error) bool {
	return errors.CanonicalCode(err) == errors.NotFound || isNoGroup(err)
}

// IsUnsupportedCommand reports whether the error indicates the store does
// not know the issued command, e.g. XAUTOCLAIM on a pre-6.2 server.
func IsUnsupportedCommand(err error) bool {
	return errors.CanonicalCode(err) == errors.Unimplemented || isUnknownCommand(err)
}
