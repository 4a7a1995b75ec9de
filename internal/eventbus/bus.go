// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package eventbus carries user actions from the delivery channels and the
// API to the feedback processor.
//
// Publishers never call the processor directly: feedback events and block
// commands go through an in-process watermill pub/sub, and a router with
// retry, poison queue and panic recovery middleware consumes them. Channel
// listeners therefore answer the user immediately while cascades run in the
// background.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/feedback"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/validation"
)

// Topics.
const (
	TopicFeedback = "feedback.events"
	TopicBlocks   = "block.commands"
	TopicPoison   = "poison.events"
)

// ErrPermanent marks a message that will never succeed. It is acknowledged
// instead of retried.
var ErrPermanent = errors.New("permanent failure")

// Handler applies user actions.
type Handler interface {
	Handle(ctx context.Context, ev models.FeedbackEvent) (feedback.Result, error)
	Apply(ctx context.Context, cmd models.BlockCommand) (models.BlockEntry, error)
}

// Announcer tells the user about blocks awaiting confirmation.
type Announcer interface {
	AnnounceBlocks(ctx context.Context, entries []models.BlockEntry)
}

// Config tunes the router.
type Config struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
	// HandlerTimeout bounds one message, cascade included.
	HandlerTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
		HandlerTimeout:       5 * time.Minute,
	}
}

// Bus is the in-process event bus.
type Bus struct {
	pubsub    *gochannel.GoChannel
	router    *message.Router
	handler   Handler
	announcer Announcer
	cfg       Config
	logger    zerolog.Logger
}

// New wires the pub/sub, router and handlers. announcer may be nil.
func New(h Handler, announcer Announcer, cfg Config) (*Bus, error) {
	logger := logging.WithComponent("eventbus")
	wmLogger := logging.NewWatermillAdapter(logger)

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	poison, err := middleware.PoisonQueue(pubsub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue: %w", err)
	}

	// Outermost first: exhausted retries land in the poison queue, and panics
	// become errors before the retry sees them.
	router.AddMiddleware(
		poison,
		middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      cfg.RetryMultiplier,
			Logger:          wmLogger,
		}.Middleware,
		middleware.Recoverer,
	)

	b := &Bus{
		pubsub:    pubsub,
		router:    router,
		handler:   h,
		announcer: announcer,
		cfg:       cfg,
		logger:    logger,
	}
	router.AddConsumerHandler("feedback", TopicFeedback, pubsub, b.consume(TopicFeedback, b.handleFeedback))
	router.AddConsumerHandler("blocks", TopicBlocks, pubsub, b.consume(TopicBlocks, b.handleBlock))
	router.AddConsumerHandler("poison", TopicPoison, pubsub, b.handlePoison)
	return b, nil
}

// Run starts the router and blocks until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the pub/sub.
func (b *Bus) Close() error {
	return errors.Join(b.router.Close(), b.pubsub.Close())
}

// PublishFeedback queues a feedback event. Events without an id get one.
func (b *Bus) PublishFeedback(ctx context.Context, ev models.FeedbackEvent) error {
	if verr := validation.ValidateStruct(ev); verr != nil {
		return verr
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return b.publish(ctx, TopicFeedback, ev.ID, ev)
}

// PublishBlock queues a block decision.
func (b *Bus) PublishBlock(ctx context.Context, cmd models.BlockCommand) error {
	if verr := validation.ValidateStruct(cmd); verr != nil {
		return verr
	}
	return b.publish(ctx, TopicBlocks, uuid.NewString(), cmd)
}

func (b *Bus) publish(ctx context.Context, topic, id string, payload interface{}) error {
	// Non-persistent pub/sub drops messages published before the router has
	// subscribed.
	select {
	case <-b.router.Running():
	case <-ctx.Done():
		return ctx.Err()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	msg := message.NewMessage(id, data)
	corr := logging.CorrelationIDFromContext(ctx)
	if corr == "" {
		corr = logging.GenerateCorrelationID()
	}
	middleware.SetCorrelationID(corr, msg)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// consume adapts a typed handler, acknowledging permanent failures.
func (b *Bus) consume(topic string, fn func(ctx context.Context, payload []byte) error) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := logging.ContextWithCorrelationID(context.Background(), middleware.MessageCorrelationID(msg))
		if b.cfg.HandlerTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
			defer cancel()
		}

		err := fn(ctx, msg.Payload)
		switch {
		case err == nil:
			metrics.BusMessages.WithLabelValues(topic, "ok").Inc()
			return nil
		case isPermanent(err):
			metrics.BusMessages.WithLabelValues(topic, "permanent").Inc()
			logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).
				Msg("Dropping message that cannot succeed")
			return nil
		default:
			return err
		}
	}
}

func isPermanent(err error) bool {
	var verr *validation.RequestValidationError
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, feedback.ErrUnknownCandidate) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.As(err, &verr)
}

func (b *Bus) handleFeedback(ctx context.Context, payload []byte) error {
	var ev models.FeedbackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: decode feedback: %w", ErrPermanent, err)
	}
	res, err := b.handler.Handle(ctx, ev)
	if err != nil {
		return err
	}
	if b.announcer != nil && len(res.Transitions) > 0 {
		b.announcer.AnnounceBlocks(ctx, res.Transitions)
	}
	return nil
}

func (b *Bus) handleBlock(ctx context.Context, payload []byte) error {
	var cmd models.BlockCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: decode block command: %w", ErrPermanent, err)
	}
	entry, err := b.handler.Apply(ctx, cmd)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("kind", string(entry.Kind)).Str("subject", entry.Subject).
		Str("state", string(entry.State)).Str("channel", cmd.Channel).Msg("Block decision applied")
	return nil
}

func (b *Bus) handlePoison(msg *message.Message) error {
	topic := msg.Metadata.Get(middleware.PoisonedTopicKey)
	metrics.BusMessages.WithLabelValues(topic, "poisoned").Inc()
	b.logger.Error().
		Str("topic", topic).
		Str("message_id", msg.UUID).
		Str("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)).
		Msg("Message failed after retries")
	return nil
}
