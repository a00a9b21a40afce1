package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func newTestClient(topics ...string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Topics: topics,
		Send:   make(chan []byte, 16),
	}
}

func TestRegisterAndBroadcast(t *testing.T) {
	hub := NewHub()
	patientID := uuid.New()
	topic := PatientTopic(patientID)

	client := newTestClient(topic)
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(topic))
	}

	evt := NewEvent(EventDoseDispensed, topic, map[string]string{"dose": "80"})
	hub.Broadcast(topic, evt)

	select {
	case raw := <-client.Send:
		var got Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if got.Type != EventDoseDispensed {
			t.Errorf("expected type %q, got %q", EventDoseDispensed, got.Type)
		}
		if got.Topic != topic {
			t.Errorf("expected topic %q, got %q", topic, got.Topic)
		}
	default:
		t.Fatal("expected event on client channel")
	}
}

func TestBroadcastOnlyReachesSubscribers(t *testing.T) {
	hub := NewHub()
	topicA := PatientTopic(uuid.New())
	topicB := PatientTopic(uuid.New())

	clientA := newTestClient(topicA)
	clientB := newTestClient(topicB)
	hub.Register(clientA)
	hub.Register(clientB)

	hub.Broadcast(topicA, NewEvent(EventDoseDispensed, topicA, nil))

	if len(clientA.Send) != 1 {
		t.Errorf("expected clientA to receive 1 event, got %d", len(clientA.Send))
	}
	if len(clientB.Send) != 0 {
		t.Errorf("expected clientB to receive 0 events, got %d", len(clientB.Send))
	}
}

func TestUnregisterRemovesSubscriptions(t *testing.T) {
	hub := NewHub()
	topic := BatchTopic(uuid.New())

	client := newTestClient(topic)
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(topic) != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.TopicCount(topic))
	}

	// Double unregister must not panic or close twice.
	hub.Unregister(client)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient()
	hub.Register(client)

	topic := PatientTopic(uuid.New())
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{topic}})

	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 subscriber after subscribe, got %d", hub.TopicCount(topic))
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{topic}})

	if hub.TopicCount(topic) != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", hub.TopicCount(topic))
	}
	if len(client.Topics) != 0 {
		t.Errorf("expected client topic list empty, got %v", client.Topics)
	}
}

func TestPublishDeliversToTopic(t *testing.T) {
	hub := NewHub()
	topic := BatchTopic(uuid.New())
	client := newTestClient(topic)
	hub.Register(client)

	evt := NewEvent(EventBatchFilled, topic, map[string]int{"bottles": 6})
	if err := hub.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(client.Send))
	}
}

func TestBroadcastSkipsFullClientBuffer(t *testing.T) {
	hub := NewHub()
	topic := PatientTopic(uuid.New())
	client := &Client{ID: "slow", Topics: []string{topic}, Send: make(chan []byte)}
	hub.Register(client)

	// Unbuffered channel with no reader; Broadcast must not block.
	hub.Broadcast(topic, NewEvent(EventDoseDispensed, topic, nil))
}
