// Package notify delivers timeoff events to Slack and to a Redis outbox.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/slack-go/slack"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// SLACK - Incoming webhook
// =============================================================================

// Slack posts rendered messages to an incoming webhook.
type Slack struct {
	webhookURL string
	appURL     string
	client     *http.Client
}

// NewSlack returns a webhook client. A nil client gets a 10s timeout.
func NewSlack(webhookURL, appURL string, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{webhookURL: webhookURL, appURL: appURL, client: client}
}

func (s *Slack) Notify(ctx context.Context, ev timeoff.Event) error {
	var errs []error
	for _, m := range Render(ev, s.appURL) {
		if err := s.post(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Slack) post(ctx context.Context, m Message) error {
	msg := &slack.WebhookMessage{Text: m.Text, Channel: m.Channel}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("slack notification failed: %w", err)
	}
	return nil
}

// =============================================================================
// QUEUE - Redis list outbox
// =============================================================================

// DefaultQueueKey is the Redis list events are pushed onto.
const DefaultQueueKey = "leave_notifications"

// Queue pushes each event as JSON onto a Redis list for other consumers.
type Queue struct {
	rdb *redis.Client
	key string
}

func NewQueue(rdb *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{rdb: rdb, key: key}
}

// DialQueue connects to Redis and checks the connection.
func DialQueue(ctx context.Context, addr, password string, db int, key string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewQueue(rdb, key), nil
}

func (q *Queue) Notify(ctx context.Context, ev timeoff.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue %s: %w", q.key, err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

// =============================================================================
// COMPOSITION
// =============================================================================

// Multi fans an event out to every sink and joins their errors.
type Multi []timeoff.Notifier

func (m Multi) Notify(ctx context.Context, ev timeoff.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, timeoff.Event) error { return nil }

// Logged records every event at debug level before handing it to next.
func Logged(logger *slog.Logger, next timeoff.Notifier) timeoff.Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return timeoff.NotifierFunc(func(ctx context.Context, ev timeoff.Event) error {
		logger.DebugContext(ctx, "notify", "kind", ev.Kind, "employee", ev.Employee.ID)
		return next.Notify(ctx, ev)
	})
}
