// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"testing"

	"github.com/hemant/qtask/internal/base"
	qerrors "github.com/hemant/qtask/internal/errors"
	"github.com/redis/go-redis/v9"
)

func entryIDs(entries []*base.Entry) []string {
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestParseReadReplyRESP2(t *testing.T) {
	reply := []interface{}{
		[]interface{}{
			"T:2",
			[]interface{}{
				[]interface{}{"1-0", []interface{}{"to", "x"}},
				[]interface{}{"2-0", []interface{}{"a", "1", "b", "2"}},
			},
		},
	}
	entries, err := parseReadReply(reply, "T:2")
	if err != nil {
		t.Fatal(err)
	}
	if got := entryIDs(entries); !reflect.DeepEqual(got, []string{"1-0", "2-0"}) {
		t.Errorf("ids = %v", got)
	}
	if !reflect.DeepEqual(entries[0].Fields, []string{"to", "x"}) {
		t.Errorf("fields[0] = %v", entries[0].Fields)
	}
	if !reflect.DeepEqual(entries[1].Fields, []string{"a", "1", "b", "2"}) {
		t.Errorf("fields[1] = %v", entries[1].Fields)
	}
}

func TestParseReadReplyRESP3Map(t *testing.T) {
	reply := map[interface{}]interface{}{
		"T:0": []interface{}{
			[]interface{}{"5-1", []interface{}{"k", "v"}},
		},
	}
	entries, err := parseReadReply(reply, "T:0")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "5-1" {
		t.Errorf("entries = %v", entries)
	}
}

func TestParseReadReplyOtherStreamIgnored(t *testing.T) {
	reply := []interface{}{
		[]interface{}{"other:0", []interface{}{
			[]interface{}{"1-0", []interface{}{"k", "v"}},
		}},
	}
	entries, err := parseReadReply(reply, "T:0")
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil for a reply about another stream", entries)
	}
}

func TestParseReadReplyPreservesOddFieldLists(t *testing.T) {
	// The adapter must surface malformed field lists untouched; dropping
	// them is the consumer's call.
	reply := []interface{}{
		[]interface{}{"T:0", []interface{}{
			[]interface{}{"1-0", []interface{}{"orphan"}},
		}},
	}
	entries, err := parseReadReply(reply, "T:0")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !reflect.DeepEqual(entries[0].Fields, []string{"orphan"}) {
		t.Errorf("entries = %v", entries)
	}
}

func TestParseReadReplyMalformed(t *testing.T) {
	for _, reply := range []interface{}{
		"nope",
		[]interface{}{"not-a-pair"},
		[]interface{}{[]interface{}{"T:0", "not-entries"}},
	} {
		if _, err := parseReadReply(reply, "T:0"); err == nil {
			t.Errorf("parseReadReply(%v) succeeded, want error", reply)
		}
	}
}

func TestParseAutoClaimReply(t *testing.T) {
	reply := []interface{}{
		"3-0",
		[]interface{}{
			[]interface{}{"1-0", []interface{}{"k", "v"}},
			nil, // deleted entry, reported as nil by older servers
			[]interface{}{"2-0", []interface{}{"a", "1"}},
		},
	}
	entries, cursor, err := parseAutoClaimReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if cursor != "3-0" {
		t.Errorf("cursor = %q, want 3-0", cursor)
	}
	if got := entryIDs(entries); !reflect.DeepEqual(got, []string{"1-0", "2-0"}) {
		t.Errorf("ids = %v", got)
	}
}

func TestParseAutoClaimReplyWithDeletedList(t *testing.T) {
	// Redis 7 appends a third element listing entry ids deleted from the
	// stream; it is ignored.
	reply := []interface{}{
		"0-0",
		[]interface{}{},
		[]interface{}{"9-0"},
	}
	entries, cursor, err := parseAutoClaimReply(reply)
	if err != nil {
		t.Fatal(err)
	}
	if cursor != "0-0" || len(entries) != 0 {
		t.Errorf("cursor = %q entries = %v", cursor, entries)
	}
}

func TestParseAutoClaimReplyMalformed(t *testing.T) {
	for _, reply := range []interface{}{
		nil,
		"nope",
		[]interface{}{"cursor-only"},
	} {
		if _, _, err := parseAutoClaimReply(reply); err == nil {
			t.Errorf("parseAutoClaimReply(%v) succeeded, want error", reply)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	connErrs := []error{
		redis.ErrClosed,
		&net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded},
		fmt.Errorf("dial tcp 127.0.0.1:6379: connection refused"),
		fmt.Errorf("write: broken pipe"),
		fmt.Errorf("read tcp: i/o timeout"),
	}
	for _, err := range connErrs {
		if !isConnError(err) {
			t.Errorf("isConnError(%v) = false, want true", err)
		}
	}

	if !isNoGroup(fmt.Errorf("NOGROUP No such key 'T:0' or consumer group 'g' in XREADGROUP with GROUP option")) {
		t.Error("isNoGroup failed to match a NOGROUP response")
	}
	if !isBusyGroup(fmt.Errorf("BUSYGROUP Consumer Group name already exists")) {
		t.Error("isBusyGroup failed to match a BUSYGROUP response")
	}
	if !isUnknownCommand(fmt.Errorf("ERR unknown command 'XAUTOCLAIM', with args beginning with: 'T:0'")) {
		t.Error("isUnknownCommand failed to match an unknown-command response")
	}

	if isConnError(nil) || isNoGroup(nil) || isBusyGroup(nil) || isUnknownCommand(nil) {
		t.Error("classifiers matched nil error")
	}
	if isConnError(errors.New("WRONGTYPE")) {
		t.Error("isConnError matched an unrelated error")
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := qerrors.E(qerrors.Op("rdb.ReadGroup"), qerrors.Unavailable, fmt.Errorf("connection refused"))
	if !IsConnError(wrapped) {
		t.Error("IsConnError failed on a wrapped Unavailable error")
	}
	wrapped = qerrors.E(qerrors.Op("rdb.ReadGroup"), qerrors.NotFound, fmt.Errorf("NOGROUP no such group"))
	if !IsNoGroup(wrapped) {
		t.Error("IsNoGroup failed on a wrapped NotFound error")
	}
	wrapped = qerrors.E(qerrors.Op("rdb.AutoClaim"), qerrors.Unimplemented, fmt.Errorf("ERR unknown command"))
	if !IsUnsupportedCommand(wrapped) {
		t.Error("IsUnsupportedCommand failed on a wrapped Unimplemented error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want qerrors.Code
	}{
		{fmt.Errorf("connection refused"), qerrors.Unavailable},
		{fmt.Errorf("NOGROUP nope"), qerrors.NotFound},
		{fmt.Errorf("ERR unknown command 'XAUTOCLAIM'"), qerrors.Unimplemented},
		{fmt.Errorf("WRONGTYPE"), qerrors.Unknown},
	}
	for _, tc := range tests {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
