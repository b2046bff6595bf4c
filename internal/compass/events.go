package compass

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

const (
	streamReadCount    = 32
	streamBlock        = 5 * time.Second
	pendingRetryPeriod = time.Minute
	streamErrorBackoff = 2 * time.Second
)

// SwipeEventHandler applies one delivered swipe event
type SwipeEventHandler interface {
	HandleSwipeEvent(ctx context.Context, event *SwipeEvent) error
}

// SwipeEventConsumer reads "swipe logged" events from a Redis stream
// consumer group. Entries are acked once handled; failed entries stay
// pending and are read again later, so delivery is at least once.
type SwipeEventConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	handler  SwipeEventHandler
}

func NewSwipeEventConsumer(client *redis.Client, stream, group, consumer string, handler SwipeEventHandler) *SwipeEventConsumer {
	return &SwipeEventConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
	}
}

// Run blocks until ctx is done
func (c *SwipeEventConsumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	logging.Info().Str("stream", c.stream).Str("group", c.group).Str("consumer", c.consumer).Msg("swipe event consumer started")

	// "0" re-reads entries delivered to this consumer but never acked
	c.drainPending(ctx)
	lastPending := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastPending) >= pendingRetryPeriod {
			c.drainPending(ctx)
			lastPending = time.Now()
		}

		streams, err := c.read(ctx, ">", streamBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn().Err(err).Str("stream", c.stream).Msg("read swipe events")
			select {
			case <-time.After(streamErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		c.process(ctx, streams)
	}
}

func (c *SwipeEventConsumer) drainPending(ctx context.Context) {
	streams, err := c.read(ctx, "0", 0)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn().Err(err).Str("stream", c.stream).Msg("read pending swipe events")
		}
		return
	}
	c.process(ctx, streams)
}

func (c *SwipeEventConsumer) read(ctx context.Context, id string, block time.Duration) ([]redis.XStream, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    streamReadCount,
		Block:    block,
	}
	if block == 0 {
		// a zero Block would wait forever
		args.Block = -1
	}

	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return streams, err
}

func (c *SwipeEventConsumer) process(ctx context.Context, streams []redis.XStream) {
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *SwipeEventConsumer) handle(ctx context.Context, msg redis.XMessage) {
	event, err := ParseSwipeEvent(msg.ID, msg.Values)
	if err == nil {
		err = c.handler.HandleSwipeEvent(ctx, event)
	}

	if errors.Is(err, ErrEventInFlight) {
		// another consumer holds the claim; the pending drain retries it
		logging.Debug().Str("message_id", msg.ID).Msg("swipe event in flight elsewhere")
		return
	}
	if err != nil && !errors.Is(err, ErrInvalidEvent) {
		// left pending for redelivery
		logging.Error().Err(err).Str("message_id", msg.ID).Msg("swipe event failed")
		return
	}
	if err != nil {
		logging.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed swipe event")
		RecordSwipeEvent("malformed")
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.ID).Msg("ack swipe event")
	}
}

// ParseSwipeEvent decodes stream fields. The stream entry id stands in for
// a missing event_id since redeliveries keep it.
func ParseSwipeEvent(entryID string, values map[string]interface{}) (*SwipeEvent, error) {
	field := func(name string) string {
		if v, ok := values[name]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	event := &SwipeEvent{
		EventID:  field("event_id"),
		SwiperID: field("swiper_id"),
		TargetID: field("target_id"),
		Action:   SwipeAction(strings.ToLower(field("action"))),
	}
	if event.EventID == "" {
		event.EventID = entryID
	}
	if event.SwiperID == "" || event.TargetID == "" || event.SwiperID == event.TargetID || !event.Action.Valid() {
		return nil, fmt.Errorf("%w: entry %s", ErrInvalidEvent, entryID)
	}
	return event, nil
}

// SwipeEventPublisher appends swipe events for the consumer group
type SwipeEventPublisher struct {
	client *redis.Client
	stream string
}

func NewSwipeEventPublisher(client *redis.Client, stream string) *SwipeEventPublisher {
	return &SwipeEventPublisher{client: client, stream: stream}
}

// Publish assigns an event id when none is set and returns it
func (p *SwipeEventPublisher) Publish(ctx context.Context, event *SwipeEvent) (string, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":  event.EventID,
			"swiper_id": event.SwiperID,
			"target_id": event.TargetID,
			"action":    string(event.Action),
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("publish swipe event: %w", err)
	}
	return event.EventID, nil
}
