package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atmx/ledger-engine/internal/model"
)

const eventTypeNotification = "ledger.notification"

// Event is the Kafka payload for a notification.
type Event struct {
	EventID      string             `json:"event_id"`
	EventType    string             `json:"event_type"`
	EventVersion int                `json:"event_version"`
	Timestamp    time.Time          `json:"timestamp"`
	Notification model.Notification `json:"notification"`
}

// ProducerMetrics instruments Kafka publishes.
type ProducerMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}

// NewProducerMetrics registers publish metrics on registerer.
func NewProducerMetrics(registerer prometheus.Registerer) *ProducerMetrics {
	m := &ProducerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_kafka_publish_total",
				Help: "Total Kafka publish attempts.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_kafka_publish_latency_seconds",
				Help:    "Kafka publish latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	registerer.MustRegister(m.PublishTotal, m.PublishLatency)
	return m
}

// KafkaNotifier publishes notifications to a Kafka topic keyed by user ID,
// so a user's notifications stay ordered within one partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

// NewKafkaNotifier wraps an existing producer.
func NewKafkaNotifier(producer sarama.SyncProducer, topic string, logger *slog.Logger, metrics *ProducerMetrics) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger, metrics: metrics}
}

// DialKafka connects an idempotent sync producer to brokers.
func DialKafka(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, n model.Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := json.Marshal(Event{
		EventID:      uuid.NewString(),
		EventType:    eventTypeNotification,
		EventVersion: 1,
		Timestamp:    time.Now().UTC(),
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.UserID),
		Value: sarama.ByteEncoder(payload),
	}

	start := time.Now()
	_, _, err = k.producer.SendMessage(msg)
	if k.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		k.metrics.PublishTotal.WithLabelValues(k.topic, status).Inc()
		k.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		k.logger.Error("kafka publish failed", "topic", k.topic, "err", err)
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

// Close closes the underlying producer.
func (k *KafkaNotifier) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
