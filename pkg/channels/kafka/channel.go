// Package kafka wires the event bus to Apache Kafka through watermill.
package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/mediaflow/pkg/events"
)

var ErrNoBrokers = errors.New("kafka brokers are not configured")

// partitionKey keeps every event of one workflow on the same partition, so
// consumers observe its state changes in publish order.
func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}

// CreateChannel returns a publisher and a subscriber for brokers. Every process
// sharing group joins the same consumer group and splits the partitions.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, group string) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, nil, ErrNoBrokers
	}

	marshaler := kafka.NewWithPartitioningMarshaler(partitionKey)

	consumerConfig := kafka.DefaultSaramaSubscriberConfig()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           marshaler,
		OverwriteSaramaConfig: consumerConfig,
		ConsumerGroup:         group + "-workers",
		OTELEnabled:           true,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	producerConfig := kafka.DefaultSaramaSyncPublisherConfig()
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             marshaler,
		OverwriteSaramaConfig: producerConfig,
		OTELEnabled:           true,
	}, logger)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("kafka publisher: %w", err), subscriber.Close())
	}

	return publisher, subscriber, nil
}
