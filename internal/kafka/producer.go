package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"eventcrafter/internal/config"
	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
)

// Producer streams roster and event activity to Kafka for downstream
// consumers (stats, audit). Disabled mode only logs, so a local run needs no
// broker.
type Producer struct {
	writers map[string]*kafka.Writer
	topics  config.TopicConfig
	enabled bool
	logger  *logger.Logger
}

func NewProducer(cfg config.KafkaConfig, log *logger.Logger) *Producer {
	p := &Producer{
		writers: make(map[string]*kafka.Writer),
		topics:  cfg.Topics,
		enabled: cfg.Enabled,
		logger:  log,
	}
	if !cfg.Enabled {
		log.Warn("KAFKA", "Kafka disabled, events will only be logged")
		return p
	}
	for _, topic := range []string{cfg.Topics.EventCreated, cfg.Topics.EventDeleted, cfg.Topics.RosterChanged, cfg.Topics.ReminderSent} {
		p.writers[topic] = kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.Brokers,
			Topic:   topic,
		})
	}
	return p
}

func (p *Producer) publish(topic, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if !p.enabled {
		p.logger.LogKafka("MOCK", topic, string(msgBytes))
		return nil
	}

	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer for topic %s", topic)
	}

	p.logger.LogKafka("PUBLISH", topic, key)
	return writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishEventCreated(event models.Event) error {
	return p.publish(p.topics.EventCreated, event.ID, event)
}

func (p *Producer) PublishEventDeleted(event models.Event) error {
	return p.publish(p.topics.EventDeleted, event.ID, event)
}

func (p *Producer) PublishRosterChanged(eventID, userID string, list models.RosterList) error {
	payload := struct {
		EventID   string            `json:"event_id"`
		UserID    string            `json:"user_id"`
		List      models.RosterList `json:"list"`
		ChangedAt time.Time         `json:"changed_at"`
	}{eventID, userID, list, time.Now()}
	return p.publish(p.topics.RosterChanged, eventID, payload)
}

func (p *Producer) PublishReminderSent(job models.ScheduledJob, recipients int) error {
	payload := struct {
		EventID    string         `json:"event_id"`
		Kind       models.JobKind `json:"kind"`
		Recipients int            `json:"recipients"`
		SentAt     time.Time      `json:"sent_at"`
	}{job.EventID, job.Kind, recipients, time.Now()}
	return p.publish(p.topics.ReminderSent, job.EventID, payload)
}

func (p *Producer) Close() {
	for _, w := range p.writers {
		_ = w.Close()
	}
}
