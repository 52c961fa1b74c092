package mq

import (
	"context"
	"encoding/json"
	"testing"
)

type recordingProducer struct {
	topic    string
	messages []*Message
}

func (r *recordingProducer) Publish(_ context.Context, topic string, message *Message) error {
	r.topic = topic
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func TestEventPublisher(t *testing.T) {
	var disabled *EventPublisher
	if err := disabled.Publish(context.Background(), "k", "x", struct{}{}); err != nil {
		t.Fatalf("nil publisher should drop events, got %v", err)
	}
	if NewEventPublisher(nil, "t").Enabled() {
		t.Fatal("publisher without producer must be disabled")
	}

	rec := &recordingProducer{}
	pub := NewEventPublisher(rec, "solution.completed")
	if err := pub.Publish(context.Background(), "s1", "solution.completed", map[string]string{"solutionId": "s1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.topic != "solution.completed" || len(rec.messages) != 1 {
		t.Fatalf("unexpected delivery: %+v", rec)
	}
	msg := rec.messages[0]
	if msg.ID != "s1" || msg.Headers["type"] != "solution.completed" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var body map[string]string
	if err := json.Unmarshal(msg.Body, &body); err != nil || body["solutionId"] != "s1" {
		t.Fatalf("unexpected body %s: %v", msg.Body, err)
	}
}
