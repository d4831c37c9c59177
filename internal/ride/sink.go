package ride

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/activity"
	"github.com/pedalei/pedalei/internal/routing"
)

// SummaryMessageType is the "type" attribute on published ride summaries.
const SummaryMessageType = "ride_summary"

// Summary is what a finished ride reports.
type Summary struct {
	RideID                string              `json:"rideId"`
	Activity              activity.Summary    `json:"activity"`
	PlannedDistanceMeters float64             `json:"plannedDistanceMeters"`
	Strategy              string              `json:"strategy"`
	Difficulty            routing.Difficulty  `json:"difficulty"`
	Preferences           routing.Preferences `json:"preferences"`
	Language              string              `json:"language"`
	Recalculations        int                 `json:"recalculations"`
	Arrived               bool                `json:"arrived"`
}

// SummarySink receives the summary of every finished ride.
type SummarySink interface {
	Publish(ctx context.Context, s Summary) error
}

// LogSink writes summaries to the log.
type LogSink struct {
	Logger zerolog.Logger
}

func (l LogSink) Publish(_ context.Context, s Summary) error {
	l.Logger.Info().
		Str("ride_id", s.RideID).
		Float64("distance_m", s.Activity.DistanceMeters).
		Float64("moving_s", s.Activity.MovingSeconds).
		Float64("avg_speed_kmh", s.Activity.AvgSpeedKmh).
		Float64("calories", s.Activity.Calories).
		Float64("co2_saved_kg", s.Activity.CO2SavedKg).
		Int("recalculations", s.Recalculations).
		Bool("arrived", s.Arrived).
		Msg("ride summary")
	return nil
}

// Publisher sends one message and returns the server-assigned id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// TopicPublisher publishes to a Pub/Sub topic.
type TopicPublisher struct {
	publisher *pubsub.Publisher
}

// NewTopicPublisher returns a publisher for topic on client.
func NewTopicPublisher(client *pubsub.Client, topic string) *TopicPublisher {
	return &TopicPublisher{publisher: client.Publisher(topic)}
}

// Publish blocks until Pub/Sub acknowledges the message.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	return result.Get(ctx)
}

// Stop flushes pending messages.
func (p *TopicPublisher) Stop() {
	p.publisher.Stop()
}

// PubSubSink publishes summaries as JSON messages.
type PubSubSink struct {
	Publisher Publisher
	Logger    zerolog.Logger
}

func (p PubSubSink) Publish(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding ride summary: %w", err)
	}

	id, err := p.Publisher.Publish(ctx, data, map[string]string{
		"type":    SummaryMessageType,
		"ride_id": s.RideID,
	})
	if err != nil {
		return err
	}

	p.Logger.Debug().
		Str("ride_id", s.RideID).
		Str("message_id", id).
		Msg("published ride summary")
	return nil
}

// MultiSink publishes to every sink and returns the first error.
type MultiSink []SummarySink

func (m MultiSink) Publish(ctx context.Context, s Summary) error {
	var first error
	for _, sink := range m {
		if err := sink.Publish(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
