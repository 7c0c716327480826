// Package notify broadcasts module change events so caches and sync workers can
// react to publishes, unpublishes and metadata edits without polling the database.
//
// The Redis implementation publishes every event on a pub/sub channel and also
// records the changed name in a sorted set scored by change time, which lets a
// consumer that was offline catch up with ChangedSince.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/npm-registry/npm-registry/internal/safego"
	"github.com/npm-registry/npm-registry/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// EventType names the kind of change.
type EventType string

const (
	// EventPublish is sent after a module version was saved.
	EventPublish EventType = "publish"
	// EventUnpublish is sent after versions or a whole module were removed.
	EventUnpublish EventType = "unpublish"
	// EventUpdate is sent after tags, maintainers or descriptor fields changed.
	EventUpdate EventType = "update"
)

// Event describes one module change.
type Event struct {
	Type    EventType `json:"type"`
	Name    string    `json:"name"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier delivers change events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier drops every event. It is used when no change feed is configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) error { return nil }

// retention bounds how long a name stays in the changed-since index.
const retention = 7 * 24 * time.Hour

// RedisNotifier publishes events through Redis.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, now: time.Now}
}

// Connect opens a Redis client and verifies it answers PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (n *RedisNotifier) indexKey() string {
	return n.channel + ":index"
}

// Notify publishes ev and records its name in the change index.
func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = n.now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	cutoff := ev.Time.Add(-retention).UnixMilli()
	_, err = n.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, n.channel, payload)
		pipe.ZAdd(ctx, n.indexKey(), redis.Z{Score: float64(ev.Time.UnixMilli()), Member: ev.Name})
		pipe.ZRemRangeByScore(ctx, n.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		telemetry.ChangeNotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	telemetry.ChangeNotificationsTotal.WithLabelValues("sent").Inc()
	slog.Debug("change event published", "type", ev.Type, "name", ev.Name, "version", ev.Version)
	return nil
}

// ChangedSince returns the names changed after since that are still in the index,
// oldest change first.
func (n *RedisNotifier) ChangedSince(ctx context.Context, since time.Time) ([]string, error) {
	names, err := n.client.ZRangeByScore(ctx, n.indexKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read change index: %w", err)
	}
	return names, nil
}

// Subscribe streams events published on the channel until ctx is cancelled.
// Payloads that do not decode are logged and skipped.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	out := make(chan Event)
	safego.Go("change-feed-subscriber", func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping undecodable change event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	return out, nil
}
