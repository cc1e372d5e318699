package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// JobOutcomeProducer publishes job outcomes reported over HTTP onto the topic
// the credit processor consumes
type JobOutcomeProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewJobOutcomeProducer creates the producer and ensures the topic exists
func NewJobOutcomeProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*JobOutcomeProducer, error) {
	if cfg.JobOutcomeTopic == "" {
		return nil, fmt.Errorf("kafka job outcome topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.BrokerList()[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for job outcome producer: %w", err)
	}
	defer conn.Close()

	err = ensureTopic(conn, topicSpec{
		Role:              "job_outcomes",
		Name:              cfg.JobOutcomeTopic,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure job outcome topic %s exists: %w", cfg.JobOutcomeTopic, err)
	}

	// Outcomes move money, so the write is synchronous and acknowledged by all replicas
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        cfg.JobOutcomeTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}

	return &JobOutcomeProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.JobOutcomeTopic,
	}, nil
}

func (p *JobOutcomeProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal job outcome: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish job outcome",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish job outcome to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published job outcome",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *JobOutcomeProducer) Close() error {
	p.logger.Info("Closing job outcome producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close job outcome writer for topic %s: %w", p.topic, err)
	}
	return nil
}
