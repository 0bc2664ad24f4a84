package di

import (
	"candle_tracker/internal/platform/config"
	"candle_tracker/internal/platform/kafka"
)

// NewPublisher creates the Kafka candle publisher. It returns nil when publishing is disabled.
func NewPublisher(cfg config.KafkaConfig) (*kafka.Producer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return kafka.NewProducer(
		kafka.WithBrokers(cfg.Brokers),
		kafka.WithTopic(cfg.Topic),
		kafka.WithRequiredAcks(cfg.RequiredAcks),
		kafka.WithCompression(cfg.Compression),
		kafka.WithMaxAttempts(cfg.MaxAttempts),
		kafka.WithBatchTimeout(cfg.BatchTimeout),
		kafka.WithWriteTimeout(cfg.WriteTimeout),
	)
}
