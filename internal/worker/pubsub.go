package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/ride"
)

// Outcome tells the subscriber what to do with a message.
type Outcome int

const (
	// Ack removes the message from the subscription.
	Ack Outcome = iota
	// Nack asks Pub/Sub to redeliver the message.
	Nack
)

func (o Outcome) String() string {
	if o == Nack {
		return "nack"
	}
	return "ack"
}

// SummaryProcessor turns ride summary messages into daily totals.
type SummaryProcessor struct {
	Totals TotalsStore
	Logger zerolog.Logger
}

// Process handles one message payload. Malformed or foreign messages are
// acked and dropped; store failures are nacked for redelivery.
func (p *SummaryProcessor) Process(ctx context.Context, data []byte, attrs map[string]string, publishTime time.Time) Outcome {
	if t, ok := attrs["type"]; ok && t != ride.SummaryMessageType {
		p.Logger.Warn().Str("type", t).Msg("ignoring unknown message type")
		return Ack
	}

	var summary ride.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		p.Logger.Error().Err(err).Msg("failed to parse ride summary")
		return Ack
	}
	if summary.RideID == "" {
		p.Logger.Error().Msg("ride summary without ride id")
		return Ack
	}

	ended := summary.Activity.EndedAt
	if ended.IsZero() {
		ended = publishTime
	}
	if ended.IsZero() {
		ended = time.Now()
	}
	day := ended.UTC().Format(DayLayout)

	added, err := p.Totals.Add(ctx, day, summary)
	if err != nil {
		p.Logger.Error().Err(err).Str("ride_id", summary.RideID).Msg("failed to record ride summary")
		return Nack
	}
	if !added {
		p.Logger.Debug().Str("ride_id", summary.RideID).Msg("ride already counted")
		return Ack
	}

	p.Logger.Info().
		Str("ride_id", summary.RideID).
		Str("day", day).
		Float64("distance_m", summary.Activity.DistanceMeters).
		Msg("ride counted")
	return Ack
}

// Receive settings for the summary subscription. Summaries are small and
// processing is a couple of Redis round trips.
const (
	maxOutstanding = 10
	maxExtension   = 10 * time.Minute
)

// PubSubHandler feeds a Pub/Sub subscription of ride summaries into a
// SummaryProcessor.
type PubSubHandler struct {
	client    *pubsub.Client
	sub       *pubsub.Subscriber
	name      string
	processor *SummaryProcessor
	logger    zerolog.Logger
}

// PubSubConfig configures NewPubSubHandler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Totals           TotalsStore
	Logger           zerolog.Logger
}

// NewPubSubHandler connects to the project and prepares the subscriber.
// Nothing is received until Start.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client for %s: %w", cfg.ProjectID, err)
	}

	sub := client.Subscriber(cfg.SubscriptionName)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	sub.ReceiveSettings.MaxExtension = maxExtension

	return &PubSubHandler{
		client:    client,
		sub:       sub,
		name:      cfg.SubscriptionName,
		processor: &SummaryProcessor{Totals: cfg.Totals, Logger: cfg.Logger},
		logger:    cfg.Logger,
	}, nil
}

// Start blocks receiving summaries until ctx is done or the subscription
// fails.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("subscription", h.name).Msg("receiving ride summaries")
	return h.sub.Receive(ctx, h.receive)
}

// Close releases the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) receive(ctx context.Context, msg *pubsub.Message) {
	began := time.Now()
	log := h.logger.With().Str("message_id", msg.ID).Logger()

	outcome := h.processor.Process(log.WithContext(ctx), msg.Data, msg.Attributes, msg.PublishTime)
	switch outcome {
	case Nack:
		msg.Nack()
	default:
		msg.Ack()
	}

	log.Debug().
		Time("published", msg.PublishTime).
		Stringer("outcome", outcome).
		Dur("took", time.Since(began)).
		Msg("summary message handled")
}
