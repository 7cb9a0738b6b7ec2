// internal/consensus/kafka_client.go

// Package consensus provides the hand-off to the external Byzantine
// consensus engine. The submission layer treats the engine as a black box
// reached over a Kafka topic; a successful produce with broker
// acknowledgment is the hand-off, and end-to-end delivery is confirmed
// separately through the processed-notification pipeline.
package consensus

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
	"github.com/cmatc13/sequencer/pkg/logging"
)

// Client submits transactions to the consensus engine. Submission is
// best-effort: an error only means this attempt failed and the caller is
// expected to retry.
type Client interface {
	SubmitToConsensus(ctx context.Context, tx *transaction.ConsensusTransaction) error
}

// KafkaClient is a Client backed by a Kafka producer. Each submission
// waits for the broker delivery report so that a nil return means the
// transaction reached the consensus ingest topic.
type KafkaClient struct {
	producer *kafka.Producer
	topic    string
	logger   *logging.Logger
}

// NewKafkaClient creates a Kafka-backed consensus client.
func NewKafkaClient(brokers, topic string, logger *logging.Logger) (*KafkaClient, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaClient{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}, nil
}

// SubmitToConsensus publishes the transaction to the consensus ingest
// topic and waits for the broker delivery report or context cancellation.
func (c *KafkaClient) SubmitToConsensus(ctx context.Context, tx *transaction.ConsensusTransaction) error {
	data, err := tx.ToJSON()
	if err != nil {
		return errors.NewSubmitterError(
			errors.SubmitterErrConsensusConnection,
			"failed to serialize consensus transaction",
			err,
		)
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = c.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &c.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(tx.Key()),
		Value: data,
	}, deliveryChan)
	if err != nil {
		return errors.NewSubmitterError(
			errors.SubmitterErrConsensusConnection,
			"failed to enqueue transaction for consensus",
			err,
		)
	}

	select {
	case ev := <-deliveryChan:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return errors.NewSubmitterError(
				errors.SubmitterErrConsensusConnection,
				fmt.Sprintf("unexpected delivery event %T", ev),
				nil,
			)
		}
		if m.TopicPartition.Error != nil {
			return errors.NewSubmitterError(
				errors.SubmitterErrConsensusConnection,
				"broker rejected consensus transaction",
				m.TopicPartition.Error,
			)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping verifies broker reachability for health reporting.
func (c *KafkaClient) Ping(ctx context.Context) error {
	_, err := c.producer.GetMetadata(&c.topic, false, 5000)
	if err != nil {
		return fmt.Errorf("kafka metadata request failed: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (c *KafkaClient) Close() {
	c.producer.Flush(5000)
	c.producer.Close()
}

var _ Client = (*KafkaClient)(nil)
