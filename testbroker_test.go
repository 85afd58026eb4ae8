// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"sync"
	"time"

	"github.com/hemant/qtask/internal/base"
)

// fakeBroker is an in-memory base.Broker for tests. Reads and reclaim scans
// are fed through channels; everything else is recorded.
type fakeBroker struct {
	reads  chan readResult
	claims chan claimResult

	mu        sync.Mutex
	appends   []appendRecord
	acked     []string
	trimmed   []string
	groups    map[string]int
	createErr func(stream string) error
	appendErr error
	pingErr   error
	closed    bool
}

type readResult struct {
	entries []*base.Entry
	err     error
}

type claimResult struct {
	entries []*base.Entry
	cursor  string
	err     error
}

type appendRecord struct {
	stream string
	id     string
	values []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		reads:  make(chan readResult, 16),
		claims: make(chan claimResult, 16),
		groups: make(map[string]int),
	}
}

func (f *fakeBroker) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBroker) Append(ctx context.Context, stream, id string, values []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.appends = append(f.appends, appendRecord{stream: stream, id: id, values: values})
	if id == "" || id == "*" {
		id = "1-0"
	}
	return id, nil
}

func (f *fakeBroker) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) ([]*base.Entry, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	select {
	case r := <-f.reads:
		return r.entries, r.err
	case <-timer.C:
		return nil, nil
	}
}

func (f *fakeBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeBroker) CreateGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	createErr := f.createErr
	f.mu.Unlock()
	if createErr != nil {
		if err := createErr(stream); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[stream+":"+group]++
	return nil
}

func (f *fakeBroker) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]*base.Entry, string, error) {
	select {
	case r := <-f.claims:
		return r.entries, r.cursor, r.err
	default:
		return nil, "0-0", nil
	}
}

func (f *fakeBroker) TrimStream(ctx context.Context, stream string, maxLen int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trimmed = append(f.trimmed, stream)
	return nil
}

func (f *fakeBroker) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func (f *fakeBroker) appended() []appendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendRecord(nil), f.appends...)
}

func (f *fakeBroker) groupCount(stream, group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[stream+":"+group]
}

// errorRecorder collects error hook emissions.
type errorRecorder struct {
	mu       sync.Mutex
	contexts []string
}

func (r *errorRecorder) HandleError(err error, errContext string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, errContext)
}

func (r *errorRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.contexts...)
}

func (r *errorRecorder) waitFor(errContext string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, c := range r.seen() {
			if c == errContext {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
