// internal/connectivity/kafka.go
package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/sequencer/pkg/logging"
)

// KafkaSource bridges peer connectivity events published by the network
// monitor on a Kafka topic into the monitor's event channel.
type KafkaSource struct {
	consumer *kafka.Consumer
	topic    string
	events   chan Event
	logger   *logging.Logger
}

// NewKafkaSource creates a Kafka-backed connectivity event source.
func NewKafkaSource(brokers, groupID, topic string, logger *logging.Logger) (*KafkaSource, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          groupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &KafkaSource{
		consumer: consumer,
		topic:    topic,
		events:   make(chan Event),
		logger:   logger,
	}, nil
}

// Events returns the channel connectivity events are delivered on.
func (s *KafkaSource) Events() <-chan Event {
	return s.events
}

// Run consumes connectivity events from Kafka until the context is
// cancelled. The events channel is closed on return.
func (s *KafkaSource) Run(ctx context.Context) {
	defer close(s.events)

	if err := s.consumer.SubscribeTopics([]string{s.topic}, nil); err != nil {
		s.logger.Error("Failed to subscribe to connectivity topic", "topic", s.topic, "error", err)
		return
	}

	s.logger.Info("Connectivity event source started", "topic", s.topic)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down connectivity event source")
			s.consumer.Close()
			return

		default:
			msg, err := s.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				// Timeout or no message, continue
				if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				s.logger.Error("Error reading connectivity event", "error", err)
				continue
			}

			var event Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				s.logger.Error("Error deserializing connectivity event", "error", err)
				continue
			}

			select {
			case s.events <- event:
			case <-ctx.Done():
				s.consumer.Close()
				return
			}
		}
	}
}
