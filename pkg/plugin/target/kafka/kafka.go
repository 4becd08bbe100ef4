// Package kafka provides a loader that produces each stream's records
// to its own Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
)

type SASLConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"`
}

type Config struct {
	Brokers     []string    `mapstructure:"brokers"`
	TopicPrefix string      `mapstructure:"topic_prefix"`
	Version     string      `mapstructure:"version"`
	Partitions  int32       `mapstructure:"partitions"`
	Replicas    int16       `mapstructure:"replicas"`
	RetentionMS int64       `mapstructure:"retention_ms"`
	SASL        *SASLConfig `mapstructure:"sasl"`
}

type Target struct {
	cfg      Config
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	topics   map[string]bool

	// keyProps, learned from SCHEMA messages, decides the message key
	// so records of the same entity land in the same partition.
	keyProps map[string][]string
}

// New returns a Kafka loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}

	if len(t.cfg.Brokers) == 0 {
		t.cfg.Brokers = []string{"localhost:9092"}
	}
	if t.cfg.TopicPrefix == "" {
		t.cfg.TopicPrefix = "melt"
	}
	if t.cfg.Version == "" {
		t.cfg.Version = "2.1.1"
	}
	if t.cfg.Partitions == 0 {
		t.cfg.Partitions = 1
	}
	if t.cfg.Replicas == 0 {
		t.cfg.Replicas = 1
	}
	if t.cfg.RetentionMS == 0 {
		t.cfg.RetentionMS = 7 * 24 * 60 * 60 * 1000 // 7 days
	}

	saramaConfig := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(t.cfg.Version)
	if err != nil {
		return fmt.Errorf("invalid Kafka version: %w", err)
	}
	saramaConfig.Version = version

	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = time.Second
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	if t.cfg.SASL != nil && t.cfg.SASL.Enable {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = t.cfg.SASL.Username
		saramaConfig.Net.SASL.Password = t.cfg.SASL.Password

		switch t.cfg.SASL.Algorithm {
		case "sha256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "sha512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewSyncProducer(t.cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(t.cfg.Brokers, saramaConfig)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create cluster admin: %w", err)
	}

	t.producer = producer
	t.admin = admin
	t.topics = map[string]bool{}
	t.keyProps = map[string][]string{}
	return nil
}

func (t *Target) Load(_ context.Context, messages <-chan singer.Message) error {
	for msg := range messages {
		switch msg.Type {
		case singer.TypeSchema:
			t.keyProps[msg.Schema.Stream] = msg.Schema.KeyProperties
		case singer.TypeRecord:
			if err := t.produce(msg.Record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Target) produce(rec *singer.Record) error {
	topic := fmt.Sprintf("%s.%s", t.cfg.TopicPrefix, rec.Stream)
	if err := t.ensureTopic(topic); err != nil {
		return err
	}

	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key := t.recordKey(rec); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := t.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// recordKey joins the record's key property values, eg "42" or
// "meltano/meltano:42".
func (t *Target) recordKey(rec *singer.Record) string {
	props := t.keyProps[rec.Stream]
	if len(props) == 0 {
		return ""
	}
	parts := make([]string, 0, len(props))
	for _, prop := range props {
		v, ok := rec.Data[prop]
		if !ok {
			return ""
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, ":")
}

func (t *Target) ensureTopic(topic string) error {
	if t.topics[topic] {
		return nil
	}

	topics, err := t.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	if _, exists := topics[topic]; !exists {
		retention := fmt.Sprintf("%d", t.cfg.RetentionMS)
		detail := &sarama.TopicDetail{
			NumPartitions:     t.cfg.Partitions,
			ReplicationFactor: t.cfg.Replicas,
			ConfigEntries: map[string]*string{
				"retention.ms": &retention,
			},
		}
		if err := t.admin.CreateTopic(topic, detail, false); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
	}

	t.topics[topic] = true
	return nil
}

func (t *Target) Disconnect() error {
	var firstErr error
	if t.admin != nil {
		if err := t.admin.Close(); err != nil {
			firstErr = err
		}
	}
	if t.producer != nil {
		if err := t.producer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
