// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"context"
	"time"

	"github.com/hemant/qtask/internal/base"
)

// Field is a single key/value pair of a message payload.
type Field = base.Field

// Fields is an ordered field/value list. It preserves insertion order, which
// the stream store keeps on the wire; use it instead of a map when field
// order matters.
type Fields = base.Fields

// Message is a single entry delivered to a Handler.
type Message struct {
	// ID is the server-assigned entry id.
	ID string

	// Fields is the reconstructed key/value mapping in wire order.
	Fields Fields

	// Partition is the partition index the entry was read from.
	Partition int

	// Stream is the physical stream name the entry was read from.
	Stream string

	// DeliveredAt is the local time this delivery was handed to the handler.
	// A reclaimed entry gets a fresh timestamp on each delivery.
	DeliveredAt time.Time
}

// Get returns the value of the first field with the given key.
func (m *Message) Get(key string) (string, bool) {
	return m.Fields.Get(key)
}

// A Handler processes messages.
//
// ProcessMessage should return nil if the processing of a message is
// successful; the entry is then acknowledged by the framework. If
// ProcessMessage returns a non-nil error or panics, the entry is not
// acknowledged: it stays in the group's pending list and is redelivered by
// the reclaim subsystem once it has been idle long enough. Handlers must be
// idempotent.
type Handler interface {
	ProcessMessage(ctx context.Context, m *Message) error
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as a Handler.
type HandlerFunc func(ctx context.Context, m *Message) error

// ProcessMessage calls fn(ctx, m)
func (fn HandlerFunc) ProcessMessage(ctx context.Context, m *Message) error {
	return fn(ctx, m)
}

// An ErrorHandler observes errors raised inside a consumer's loops.
// The errContext label identifies the failing operation, e.g.
// "readloop_xreadgroup" or "autoclaim_nogroup".
type ErrorHandler interface {
	HandleError(err error, errContext string)
}

// The ErrorHandlerFunc type is an adapter to allow the use of ordinary
// functions as an ErrorHandler.
type ErrorHandlerFunc func(err error, errContext string)

// HandleError calls fn(err, errContext)
func (fn ErrorHandlerFunc) HandleError(err error, errContext string) {
	fn(err, errContext)
}
