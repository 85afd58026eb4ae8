// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"fmt"
	"math/rand"
	"unicode/utf16"

	"github.com/hemant/qtask/internal/base"
	"github.com/spf13/cast"
)

// Partitioner maps partition keys to partition indexes and partition indexes
// to physical stream names. The mapping is deterministic: the same key maps
// to the same partition from any producer in any language.
type Partitioner struct {
	totalPartitions int
}

// NewPartitioner returns a Partitioner over the given number of partitions.
// totalPartitions must be a positive integer and must agree across all
// members of the fleet.
func NewPartitioner(totalPartitions int) (*Partitioner, error) {
	if totalPartitions <= 0 {
		return nil, fmt.Errorf("qtask: total partitions must be a positive integer, got %d", totalPartitions)
	}
	return &Partitioner{totalPartitions: totalPartitions}, nil
}

// TotalPartitions returns the fleet-wide partition count.
func (p *Partitioner) TotalPartitions() int {
	return p.totalPartitions
}

// Hash computes the 32-bit string hash used for partition selection:
// h = ((h << 5) - h) + c over each UTF-16 code unit with signed wrap-around.
// This is the classic Java string hash; producers written in other languages
// compute the same value for the same key.
func Hash(key string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(key)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// PartitionFor returns the partition index for the given key.
// Keys that are not strings are coerced to their textual representation.
// A nil key selects a uniformly random partition to spread load.
func (p *Partitioner) PartitionFor(key interface{}) (int, error) {
	if key == nil {
		return rand.Intn(p.totalPartitions), nil
	}
	s, err := cast.ToStringE(key)
	if err != nil {
		return 0, fmt.Errorf("qtask: partition key has no textual representation: %v", err)
	}
	h := int64(Hash(s))
	if h < 0 {
		h = -h
	}
	return int(h % int64(p.totalPartitions)), nil
}

// StreamName returns the physical stream name for the given topic and
// partition index: "topic:index".
func (p *Partitioner) StreamName(topic string, index int) (string, error) {
	if index < 0 || index >= p.totalPartitions {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidPartitionIndex, index, p.totalPartitions)
	}
	return base.StreamKey(topic, index), nil
}
