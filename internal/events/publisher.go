package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/metrics"
)

const (
	// VideoUploaded is published after a clip is stored.
	VideoUploaded = "video.uploaded"
	// VideoDeleted is published after a clip is removed.
	VideoDeleted = "video.deleted"

	streamName    = "GEOCLIP_VIDEOS"
	subjectPrefix = "geoclip."
)

// VideoEvent is the payload of every video event.
type VideoEvent struct {
	VideoID   string    `json:"video_id"`
	OwnerID   string    `json:"owner_id"`
	MediaType string    `json:"media_type,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	HasCoords bool      `json:"has_location"`
	CreatedAt time.Time `json:"created_at"`
}

// Envelope wraps every published event.
type Envelope struct {
	Type          string     `json:"type"`
	Version       string     `json:"version"`
	OccurredAt    time.Time  `json:"occurred_at"`
	CorrelationID string     `json:"correlation_id"`
	Payload       VideoEvent `json:"payload"`
}

// Publisher announces video lifecycle changes.
type Publisher interface {
	Publish(ctx context.Context, eventType string, event VideoEvent) error
	Close() error
}

// Noop discards every event. It is used when NATS is not configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, VideoEvent) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// msgPublisher is the slice of nats.JetStreamContext the publisher uses.
type msgPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type natsPublisher struct {
	js      msgPublisher
	drain   func() error
	metrics *metrics.Metrics
	now     func() time.Time
}

// Connect returns a JetStream publisher for url, or Noop when url is empty or
// the server cannot be reached. Event delivery is best effort and never blocks
// startup.
func Connect(url string, m *metrics.Metrics, logger *slog.Logger) Publisher {
	if url == "" {
		return Noop{}
	}

	nc, err := nats.Connect(url,
		nats.Name("geoclip"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logger.Warn("nats connect failed, events disabled", "error", err)
		return Noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("nats jetstream unavailable, events disabled", "error", err)
		nc.Close()
		return Noop{}
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + "video.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			logger.Warn("nats stream setup failed, events disabled", "error", err)
			nc.Close()
			return Noop{}
		}
	}

	return &natsPublisher{js: js, drain: nc.Drain, metrics: m, now: time.Now}
}

func (p *natsPublisher) Publish(ctx context.Context, eventType string, event VideoEvent) error {
	b, err := json.Marshal(NewEnvelope(ctx, eventType, event, p.now()))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := nats.NewMsg(subjectPrefix + eventType)
	msg.Data = b
	// JetStream drops duplicates with the same message id inside its window.
	msg.Header.Set(nats.MsgIdHdr, eventType+":"+event.VideoID)

	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	p.metrics.ObserveEvent(eventType, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	if p.drain == nil {
		return nil
	}
	return p.drain()
}

// NewEnvelope wraps event, correlating it with the request id on ctx when present.
func NewEnvelope(ctx context.Context, eventType string, event VideoEvent, now time.Time) Envelope {
	correlationID := logging.RequestIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		Type:          eventType,
		Version:       "1",
		OccurredAt:    now.UTC(),
		CorrelationID: correlationID,
		Payload:       event,
	}
}
