// Package notify wraps Redis Streams as a latency optimization for the
// Router and Sender loops: a producer XAdds a tiny marker whenever a new
// row becomes eligible for work, so a consumer can wake via XReadGroup
// instead of polling. It is never a correctness dependency — every
// consumer here is also driven by its own independent poll loop, so the
// system is fully correct with Redis absent or unreachable. Grounded on
// zachbroad-webhook-relay/internal/worker/fanout.go's XAdd/XReadGroup/XAck
// consumer-group pattern.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const busyGroupErr = "BUSYGROUP Consumer Group name already exists"

// Notifier publishes and consumes "ready" markers on one Redis stream.
// A nil *redis.Client makes every method a silent no-op, so callers can
// construct a Notifier unconditionally even when redis_url is unset.
type Notifier struct {
	rdb    *redis.Client
	stream string
	group  string
}

func New(rdb *redis.Client, streamPrefix, name string) *Notifier {
	return &Notifier{
		rdb:    rdb,
		stream: streamPrefix + "-" + name,
		group:  name + "-consumers",
	}
}

// EnsureGroup creates the consumer group if it doesn't already exist.
// Safe to call repeatedly; a no-op if rdb is nil.
func (n *Notifier) EnsureGroup(ctx context.Context) {
	if n.rdb == nil {
		return
	}
	err := n.rdb.XGroupCreateMkStream(ctx, n.stream, n.group, "0").Err()
	if err != nil && err.Error() != busyGroupErr {
		slog.Warn("notify: create consumer group failed, falling back to poll-only", "stream", n.stream, "error", err)
	}
}

// Publish announces that id became eligible for work. Best-effort: a
// publish failure is logged and otherwise ignored, since the consumer's
// poll loop will still find the row.
func (n *Notifier) Publish(ctx context.Context, id string) {
	if n.rdb == nil {
		return
	}
	if err := n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{"id": id},
	}).Err(); err != nil {
		slog.Warn("notify: publish failed", "stream", n.stream, "error", err)
	}
}

// Wait blocks up to block for a notification, returning true if one
// arrived (and acknowledging it) or false on timeout/error/no-redis — in
// every case the caller should fall back to its own poll.
func (n *Notifier) Wait(ctx context.Context, consumer string, block time.Duration) bool {
	if n.rdb == nil {
		return false
	}

	res, err := n.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    n.group,
		Consumer: consumer,
		Streams:  []string{n.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		return false
	}

	got := false
	for _, stream := range res {
		for _, msg := range stream.Messages {
			got = true
			n.rdb.XAck(ctx, n.stream, n.group, msg.ID)
		}
	}
	return got
}
