package producers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// topicAdmin is the part of *kafka.Conn used to provision topics
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

// topicSpec describes a topic a producer writes to. Role names it in logs
// ("job_outcomes" or "dead_letter").
type topicSpec struct {
	Role              string
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

func (s topicSpec) config() kafka.TopicConfig {
	cfg := kafka.TopicConfig{
		Topic:             s.Name,
		NumPartitions:     s.NumPartitions,
		ReplicationFactor: s.ReplicationFactor,
	}
	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	return cfg
}

// Partition reads are retried while the broker settles after startup
var (
	topicReadAttempts = 5
	topicReadBackoff  = 2 * time.Second
)

// ensureTopic creates the topic unless the broker already reports partitions for it
func ensureTopic(admin topicAdmin, spec topicSpec, log *slog.Logger) error {
	logger := log.With("topic", spec.Name, "role", spec.Role)

	var partitions []kafka.Partition
	var err error
	for attempt := 1; attempt <= topicReadAttempts; attempt++ {
		partitions, err = admin.ReadPartitions(spec.Name)
		if err == nil {
			break
		}
		logger.Warn("Failed to read topic partitions", "attempt", attempt, "error", err)
		if attempt < topicReadAttempts {
			time.Sleep(topicReadBackoff)
		}
	}

	if len(partitions) > 0 {
		logger.Info("Kafka topic ready", "partitions", len(partitions))
		return nil
	}

	cfg := spec.config()
	logger.Info("Creating Kafka topic",
		"partitions", cfg.NumPartitions,
		"replication_factor", cfg.ReplicationFactor,
		"last_read_error", err)
	if err := admin.CreateTopics(cfg); err != nil {
		return fmt.Errorf("failed to create %s topic %s: %w", spec.Role, spec.Name, err)
	}
	logger.Info("Kafka topic created")
	return nil
}
