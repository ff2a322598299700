package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
)

// activeUsersKey mirrors the scheduler's hot-tier set of users to refresh on
// the next hourly pass.
const activeUsersKey = "active_users"

// InteractionEvent is the payload published by the library service whenever
// a user rates, completes, or otherwise touches a media item.
type InteractionEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	MediaID   uuid.UUID `json:"media_id"`
	Action    string    `json:"action"`
	Rating    *float64  `json:"rating,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileInvalidator is the slice of the profile builder the consumer needs.
type ProfileInvalidator interface {
	MarkStale(ctx context.Context, userID uuid.UUID) error
}

// InteractionConsumer tails the user-interaction topic. Each event flags the
// user's profile stale and records the user in the hot-tier active set so the
// hourly refresh regenerates their recommendations.
type InteractionConsumer struct {
	reader   *kafka.Reader
	profiles ProfileInvalidator
	hot      *redis.Client
	logger   *logrus.Logger
}

func NewInteractionConsumer(cfg *config.Config, profiles ProfileInvalidator, hot *redis.Client, logger *logrus.Logger) *InteractionConsumer {
	return &InteractionConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topics.UserInteractions,
			GroupID:        cfg.Kafka.ConsumerGroup,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		profiles: profiles,
		hot:      hot,
		logger:   logger,
	}
}

// Run consumes until the context is cancelled. Malformed events are logged
// and skipped; the recommendation core is a best-effort listener here, the
// daily regeneration catches anything missed.
func (c *InteractionConsumer) Run(ctx context.Context) error {
	c.logger.WithField("topic", c.reader.Config().Topic).Info("Interaction consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).Warn("Failed to read interaction event")
			continue
		}

		var event InteractionEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.WithError(err).Warn("Skipping malformed interaction event")
			continue
		}
		if event.UserID == uuid.Nil {
			continue
		}

		c.handle(ctx, &event)
	}
}

func (c *InteractionConsumer) handle(ctx context.Context, event *InteractionEvent) {
	if err := c.profiles.MarkStale(ctx, event.UserID); err != nil {
		c.logger.WithError(err).WithField("user_id", event.UserID).Warn("Failed to flag profile stale from event")
	}

	if c.hot != nil {
		if err := c.hot.SAdd(ctx, activeUsersKey, event.UserID.String()).Err(); err != nil {
			c.logger.WithError(err).Debug("Failed to record active user")
		}
	}
}

func (c *InteractionConsumer) Close() error {
	return c.reader.Close()
}
