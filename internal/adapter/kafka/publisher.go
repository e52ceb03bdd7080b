package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by StatePublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// StatePublisher mirrors committed feature states to a Kafka topic, one
// message per region keyed by its GEOID.
// It implements tiles.StateSink.
type StatePublisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStatePublisher creates a Kafka producer for the configured state topic.
func NewStatePublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *StatePublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaStateTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &StatePublisher{writer: w, logger: logger, metrics: metrics}
}

// FeatureState is the message value for one region.
type FeatureState struct {
	domain.RankRecord
	Version     uint64    `json:"state_version"`
	PublishedAt time.Time `json:"published_at"`
}

// PublishStates writes every state of one commit in a single WriteMessages
// call. Keys hash to stable partitions, so per-region order follows versions.
func (p *StatePublisher) PublishStates(ctx context.Context, version uint64, states []domain.RankRecord) error {
	if len(states) == 0 {
		return nil
	}
	now := domain.Now()
	msgs := make([]kafkago.Message, len(states))
	for i, s := range states {
		msg, err := serializeToMessage(FeatureState{RankRecord: s, Version: version, PublishedAt: now})
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d feature states: %w", len(msgs), err)
	}
	p.metrics.StatesPublished.Add(float64(len(msgs)))
	p.logger.Debug("feature states published", "version", version, "states", len(msgs))
	return nil
}

func (p *StatePublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a FeatureState into a Kafka message.
func serializeToMessage(state FeatureState) (kafkago.Message, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature state: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(state.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "state_version", Value: []byte(strconv.FormatUint(state.Version, 10))},
			{Key: "published_at", Value: []byte(state.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}
