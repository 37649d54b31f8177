package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/rediskeys"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// AuthEventsSubscriber implements domain.AuthEventSubscriber over Redis pub/sub.
type AuthEventsSubscriber struct {
	redisClient *redis.Client
	logger      domain.Logger
	channel     string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewAuthEventsSubscriber creates a subscriber for the auth events of profile.
func NewAuthEventsSubscriber(redisClient *redis.Client, logger domain.Logger, profile string) *AuthEventsSubscriber {
	if profile == "" {
		profile = "default"
	}
	return &AuthEventsSubscriber{
		redisClient: redisClient,
		logger:      logger,
		channel:     rediskeys.AuthEventsChannel(profile),
	}
}

// SubscribeAuthEvents confirms the subscription and then delivers events on a
// background goroutine until Close is called.
func (a *AuthEventsSubscriber) SubscribeAuthEvents(ctx context.Context, handler domain.AuthEventHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return fmt.Errorf("already subscribed to %s", a.channel)
	}

	sub := a.redisClient.Subscribe(ctx, a.channel)
	if _, err := sub.Receive(ctx); err != nil {
		a.logger.Error(ctx, "Failed to confirm Redis subscription", "channel", a.channel, "error", err.Error())
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to channel '%s': %w", a.channel, err)
	}
	a.sub = sub
	a.logger.Info(ctx, "Subscribed to auth events", "channel", a.channel)

	ch := sub.Channel()
	safego.Execute(ctx, a.logger, "AuthEventsSubscriber", func() {
		for msg := range ch {
			var ev domain.AuthEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				a.logger.Error(ctx, "Failed to unmarshal auth event", "channel", msg.Channel, "payload", msg.Payload, "error", err.Error())
				continue
			}
			a.logger.Info(ctx, "Received auth event", "type", string(ev.Type), "user_id", ev.UserID)
			handler(ctx, ev)
		}
		a.logger.Info(ctx, "Auth events subscription ended", "channel", a.channel)
	})
	return nil
}

// Close ends the subscription. Closing an idle subscriber is a no-op.
func (a *AuthEventsSubscriber) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return nil
	}
	err := a.sub.Close()
	a.sub = nil
	if err != nil {
		return fmt.Errorf("error closing Redis pub/sub: %w", err)
	}
	a.logger.Info(context.Background(), "Auth events subscription closed", "channel", a.channel)
	return nil
}

func publishAuthEvent(ctx context.Context, redisClient *redis.Client, logger domain.Logger, channel string, ev domain.AuthEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal auth event: %w", err)
	}
	if err := redisClient.Publish(ctx, channel, string(payload)).Err(); err != nil {
		logger.Error(ctx, "Failed to publish auth event", "channel", channel, "error", err.Error())
		return fmt.Errorf("failed to publish to Redis channel '%s': %w", channel, err)
	}
	return nil
}
