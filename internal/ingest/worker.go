package ingest

import (
	"context"
	"fmt"

	"salesbot_backend/internal/conversation"
	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes the conversation queue and feeds events into the
// pipeline.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	process func(ctx context.Context, event conversation.InboundEvent)
	log     *logger.Logger
}

// NewWorker creates a queue worker. Concurrency stays at 1 per queue
// partition: ordering within a conversation is preserved by the
// orchestrator's lock table, not the queue, but a small worker pool keeps
// memory bounded.
func NewWorker(cfg config.RedisConfig, process func(ctx context.Context, event conversation.InboundEvent), log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			queueName: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		process: process,
		log:     log,
	}

	mux.HandleFunc(TaskProcessMessage, w.handleProcessMessage)

	return w, nil
}

func (w *Worker) handleProcessMessage(ctx context.Context, task *asynq.Task) error {
	event, err := ParseProcessMessagePayload(task)
	if err != nil {
		// A payload that never unmarshals will never succeed; drop it.
		w.log.Error("dropping malformed queue payload", "error", err)
		return nil
	}

	w.process(ctx, event)
	return nil
}

// Run blocks serving the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("ingest worker stopped", "error", err)
	}
}
