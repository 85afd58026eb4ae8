package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Inspector provides read-only access to QTask partition streams in Redis.
type Inspector struct {
	client     redis.UniversalClient
	topics     []string
	partitions int
}

// NewInspector creates a new Inspector for the given topics.
func NewInspector(client redis.UniversalClient, topics []string, partitions int) *Inspector {
	return &Inspector{client: client, topics: topics, partitions: partitions}
}

// PartitionInfo holds information about one partition stream.
type PartitionInfo struct {
	Stream    string      `json:"stream"`
	Partition int         `json:"partition"`
	Length    int64       `json:"length"`
	Groups    []GroupInfo `json:"groups"`
}

// GroupInfo holds information about a consumer group on a partition stream.
type GroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// TopicInfo holds aggregate information about a logical topic.
type TopicInfo struct {
	Topic        string          `json:"topic"`
	TotalLength  int64           `json:"total_length"`
	TotalPending int64           `json:"total_pending"`
	Partitions   []PartitionInfo `json:"partitions"`
}

// GetTopics returns information about every monitored topic.
func (i *Inspector) GetTopics(ctx context.Context) ([]TopicInfo, error) {
	var topics []TopicInfo
	for _, topic := range i.topics {
		info, err := i.getTopicInfo(ctx, topic)
		if err != nil {
			return nil, err
		}
		topics = append(topics, info)
	}
	sort.Slice(topics, func(a, b int) bool {
		return topics[a].Topic < topics[b].Topic
	})
	return topics, nil
}

func (i *Inspector) getTopicInfo(ctx context.Context, topic string) (TopicInfo, error) {
	info := TopicInfo{Topic: topic}
	for p := 0; p < i.partitions; p++ {
		stream := fmt.Sprintf("%s:%d", topic, p)
		pi, err := i.getPartitionInfo(ctx, stream, p)
		if err != nil {
			return info, err
		}
		info.TotalLength += pi.Length
		for _, g := range pi.Groups {
			info.TotalPending += g.Pending
		}
		info.Partitions = append(info.Partitions, pi)
	}
	return info, nil
}

func (i *Inspector) getPartitionInfo(ctx context.Context, stream string, partition int) (PartitionInfo, error) {
	info := PartitionInfo{Stream: stream, Partition: partition}

	length, err := i.client.XLen(ctx, stream).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read length of %s: %w", stream, err)
	}
	info.Length = length

	groups, err := i.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		// A stream with no groups yet is not an error worth surfacing.
		return info, nil
	}
	for _, g := range groups {
		info.Groups = append(info.Groups, GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return info, nil
}
