//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/adapter/kafka"
	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStateTopic = "test-region-feature-state"

// stateMessage holds a deserialized message read from the state topic.
type stateMessage struct {
	State   kafka.FeatureState
	Key     string
	Headers map[string]string
}

func readState(ctx context.Context, t *testing.T, consumer *kafkago.Reader) stateMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from state topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var state kafka.FeatureState
	require.NoError(t, json.Unmarshal(msg.Value, &state), "unmarshal state message")
	return stateMessage{State: state, Key: string(msg.Key), Headers: headers}
}

// staticFetcher serves no tiles; only the state commit path is exercised.
type staticFetcher struct{}

func (staticFetcher) FetchTile(context.Context, tiles.TileID) ([]domain.Region, error) { return nil, nil }
func (staticFetcher) Available(context.Context) error                                 { return nil }

// TestStatePublisherRoundTrip commits two state generations through a tile
// source backed by a real Kafka publisher and reads them back in order.
func TestStatePublisherRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testStateTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaStateTopic: testStateTopic}
	metrics := observability.NewMetricsForTesting()
	publisher := kafka.NewStatePublisher(cfg, discardLogger(), metrics)
	t.Cleanup(func() { _ = publisher.Close() })

	source := tiles.NewSource(staticFetcher{}, domain.DefaultPalette, publisher, discardLogger())

	source.SetState("170310101001", domain.RankRecord{Key: "170310101001", NationalRank: 85, StateRank: 9})
	source.SetState("170310101002", domain.RankRecord{Key: "170310101002", NationalRank: 15, StateRank: 1})
	require.NoError(t, source.Commit(ctx))

	source.ClearStates()
	source.SetState("170310101001", domain.RankRecord{Key: "170310101001", NationalRank: 40, StateRank: 4})
	require.NoError(t, source.Commit(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testStateTopic,
		GroupID:     fmt.Sprintf("test-states-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	byKey := map[string][]stateMessage{}
	for range 3 {
		m := readState(ctx, t, consumer)
		byKey[m.Key] = append(byKey[m.Key], m)
	}

	require.Len(t, byKey["170310101001"], 2)
	require.Len(t, byKey["170310101002"], 1)

	first, second := byKey["170310101001"][0], byKey["170310101001"][1]
	assert.Equal(t, uint64(1), first.State.Version)
	assert.Equal(t, 85, first.State.NationalRank)
	assert.Equal(t, uint64(2), second.State.Version, "same key stays on one partition in commit order")
	assert.Equal(t, 40, second.State.NationalRank)
	assert.Equal(t, "2", second.Headers["state_version"])
	_, err := time.Parse(time.RFC3339, second.Headers["published_at"])
	assert.NoError(t, err, "published_at should be valid RFC3339")

	assert.Equal(t, 1, byKey["170310101002"][0].State.StateRank)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.StatesPublished))
}
