package audit

import (
	"context"
	"encoding/json"

	"mealgate/internal/meal"
	"mealgate/internal/queue"
)

// MessageType tags decision events on the queue.
const MessageType = "decision"

// QueueSink forwards core decisions onto the worker queue. Implements
// meal.DecisionSink.
type QueueSink struct {
	q queue.Queue
}

// NewQueueSink wraps q.
func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

// Record publishes the decision as JSON.
func (s *QueueSink) Record(ctx context.Context, d meal.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}
