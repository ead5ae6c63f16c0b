package repository

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const historySuffix = ":history"

type ChannelRepository struct {
	rdb *goredis.Client
}

func NewChannelRepository(rdb *goredis.Client) *ChannelRepository {
	return &ChannelRepository{rdb: rdb}
}

func HistoryKey(channel string) string {
	return channel + historySuffix
}

// Publish sends payload to channel subscribers and, when history > 0, keeps the
// newest history payloads in a list next to it. Both happen in one round trip.
func (r *ChannelRepository) Publish(ctx context.Context, channel string, payload []byte, history int64) (int64, error) {
	var receivers *goredis.IntCmd

	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		receivers = pipe.Publish(ctx, channel, payload)

		if history > 0 {
			pipe.LPush(ctx, HistoryKey(channel), payload)
			pipe.LTrim(ctx, HistoryKey(channel), 0, history-1)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return receivers.Val(), nil
}
