//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/alert"
	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/pipeline"
	"github.com/couchcryptid/hazard-alert-service/internal/source"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

const (
	testEventsTopic        = "test-hazard-events"
	testNotificationsTopic = "test-hazard-notifications"
)

// usgsFeed is a two-quake GeoJSON summary feed; only the first is above
// the subscriber threshold.
const usgsFeed = `{
  "features": [
    {"id": "us7000abcd", "properties": {"mag": 6.2, "place": "12 km SW of Hinatuan, Philippines", "time": 1792303080000, "title": "M 6.2 - 12 km SW of Hinatuan"},
     "geometry": {"coordinates": [126.2, 8.3, 33.0]}},
    {"id": "us7000abce", "properties": {"mag": 3.1, "place": "5 km N of Baler, Philippines", "time": 1792303200000, "title": "M 3.1 - 5 km N of Baler"},
     "geometry": {"coordinates": [121.6, 15.8, 10.0]}}
  ]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("hazard-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func readMessage(ctx context.Context, t *testing.T, broker, topic string) kafkago.Message {
	t.Helper()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from %s", topic)
	return msg
}

func headers(msg kafkago.Message) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

// TestIngestPublishesEventsAndNotifications drives one quake cycle from a
// fake USGS feed through the orchestrator and matcher, and reads both the
// merged event and the subscriber notification back from Kafka.
func TestIngestPublishesEventsAndNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventsTopic)
	createTopic(t, broker, testNotificationsTopic)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = io.WriteString(w, usgsFeed)
	}))
	t.Cleanup(feed.Close)

	adapters, err := source.Build([]source.Spec{{
		ID:           "usgs",
		Type:         source.TypeUSGS,
		URLs:         []string{feed.URL},
		MinMagnitude: 2.5,
	}}, discardLogger())
	require.NoError(t, err)

	metrics := observability.NewMetricsForTesting()
	publisher := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:            []string{broker},
		EventsTopic:        testEventsTopic,
		NotificationsTopic: testNotificationsTopic,
	}, metrics, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC))
	mem := store.NewMemory()
	require.NoError(t, mem.PutSubscriber(ctx, domain.Subscriber{ID: "ana", MinMagnitude: 5, Enabled: true}))

	matcher := alert.NewMatcher(mem, alert.Policy{NotifyAllWhenUnconfigured: true}, clock, discardLogger(), metrics, publisher)
	dispatcher := alert.NewDispatcher(matcher, alert.DispatcherConfig{MaxRetries: 1}, clock, discardLogger(), metrics)
	t.Cleanup(dispatcher.Close)

	orch := pipeline.NewOrchestrator(domain.KindEarthquake, adapters, 2*time.Minute, pipeline.Deps{
		Store:     mem,
		Cache:     cache.New[[]domain.HazardEvent](clock),
		Clock:     clock,
		Logger:    discardLogger(),
		Metrics:   metrics,
		Publisher: publisher,
		Alerts:    dispatcher,
	})

	report, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, report.Degraded)
	assert.Equal(t, 2, report.Events)
	assert.Len(t, report.NewKeys, 2)

	// Events are keyed by identity key; read the first one back.
	msg := readMessage(ctx, t, broker, testEventsTopic)
	var event domain.HazardEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, event.IdentityKey, string(msg.Key))
	assert.Equal(t, domain.KindEarthquake, event.Kind)
	assert.Equal(t, "earthquake", headers(msg)["kind"])
	assert.Equal(t, "false", headers(msg)["synthetic"])

	// Only the magnitude 6.2 quake clears the subscriber threshold.
	msg = readMessage(ctx, t, broker, testNotificationsTopic)
	var n domain.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &n))
	assert.Equal(t, "ana", string(msg.Key))
	assert.Equal(t, "ana", n.SubscriberID)
	assert.Contains(t, n.Message, "Magnitude 6.2")
	assert.Equal(t, domain.IdentityKey(domain.KindEarthquake, "usgs", "us7000abcd"), headers(msg)["identity_key"])

	notifications, err := mem.ListNotifications(ctx, "ana", 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)

	// A second cycle over the same feed creates nothing new.
	report, err = orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.NewKeys)
	notifications, err = mem.ListNotifications(ctx, "ana", 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}
