// Package ingest moves accepted webhook events from the HTTP handler to
// the conversation pipeline. With Redis configured the hop goes through an
// asynq queue so deliveries survive restarts; without it events are
// processed in-process.
package ingest

import (
	"encoding/json"

	"salesbot_backend/internal/conversation"

	"github.com/hibiken/asynq"
)

const TaskProcessMessage = "conversation:process"

const queueName = "conversations"

func NewProcessMessageTask(event conversation.InboundEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessMessage, data), nil
}

func ParseProcessMessagePayload(task *asynq.Task) (conversation.InboundEvent, error) {
	var event conversation.InboundEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return conversation.InboundEvent{}, err
	}
	return event, nil
}
