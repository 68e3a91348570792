package ingest

import (
	"context"
	"crypto/tls"
	"fmt"

	"salesbot_backend/internal/conversation"
	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Enqueuer hands an accepted event off for processing. The webhook handler
// only depends on this.
type Enqueuer interface {
	Enqueue(ctx context.Context, event conversation.InboundEvent) error
}

// Client enqueues events onto the asynq queue.
type Client struct {
	client *asynq.Client
}

// NewClient creates a queue client. Requires a configured Redis URL.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Enqueue(ctx context.Context, event conversation.InboundEvent) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewProcessMessageTask(event)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(queueName))
	return err
}

// InlineEnqueuer processes events in-process. Used when no Redis is
// configured; deliveries do not survive a restart.
type InlineEnqueuer struct {
	process func(ctx context.Context, event conversation.InboundEvent)
	log     *logger.Logger
}

// NewInlineEnqueuer creates the in-process fallback.
func NewInlineEnqueuer(process func(ctx context.Context, event conversation.InboundEvent), log *logger.Logger) *InlineEnqueuer {
	return &InlineEnqueuer{process: process, log: log}
}

// Enqueue hands the event to the processor on a fresh goroutine so the
// webhook response is not held up. The request context is detached: the
// response going out must not cancel processing.
func (e *InlineEnqueuer) Enqueue(ctx context.Context, event conversation.InboundEvent) error {
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("inline processing panicked", "event_id", event.EventID, "panic", r)
			}
		}()
		e.process(detached, event)
	}()
	return nil
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
