package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.AggregateID != "1001" {
			t.Errorf("unexpected aggregate id %q", envelope.AggregateID)
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "1001", Envelope{
		ID:          "m-1",
		AggregateID: "1001",
		EventType:   EventTypeTransferAssigned,
		Payload:     json.RawMessage(`{"order_id":"1001"}`),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicOrderEvents, "1001", map[string]string{"order_id": "1001"}); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	if err := producer.PublishEvent(TopicOrderEvents, "1001", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvelope_AffectsOrderList(t *testing.T) {
	cases := map[EventType]bool{
		EventTypeOrderCreated:       true,
		EventTypeOrderScanned:       true,
		EventTypeOrderStatusChanged: true,
		EventTypeTransferAssigned:   true,
		EventType("user.login"):     false,
	}
	for eventType, want := range cases {
		if got := (Envelope{EventType: eventType}).AffectsOrderList(); got != want {
			t.Errorf("%s: expected %v, got %v", eventType, want, got)
		}
	}
}

func TestParseBrokers(t *testing.T) {
	if got := ParseBrokers(""); got != nil {
		t.Fatalf("expected nil for empty list, got %v", got)
	}
	got := ParseBrokers(" kafka-1:9092, ,kafka-2:9092,")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}
