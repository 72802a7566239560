// Package live delivers freshly persisted messages to connected clients
// through Redis pub/sub, so delivery works across server instances. It also
// keeps best-effort presence keys. Nothing here is authoritative: DynamoDB
// remains the source of truth, and a missed publication only means a client
// catches up from history.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"harmony/internal/config"
	"harmony/internal/models"
)

const (
	chatChannelPrefix = "chat:"
	presenceTTL       = 5 * time.Minute
)

type Feed struct {
	client *redis.Client
	logger *zap.Logger
}

func NewFeed(cfg config.RedisConfig, logger *zap.Logger) (*Feed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Feed{client: client, logger: logger}, nil
}

// PublishMessage fans a persisted message out to every instance subscribed
// to its chat channel.
func (f *Feed) PublishMessage(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return f.client.Publish(ctx, chatChannelPrefix+msg.ChatID, payload).Err()
}

// Subscribe returns a channel of messages published on any chat channel.
// The channel closes when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context) <-chan *models.Message {
	sub := f.client.PSubscribe(ctx, chatChannelPrefix+"*")
	out := make(chan *models.Message, 64)

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-sub.Channel():
				if !ok {
					return
				}
				var msg models.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					f.logger.Warn("dropping malformed live message", zap.Error(err))
					continue
				}
				out <- &msg
			}
		}
	}()

	return out
}

func (f *Feed) SetUserOnline(ctx context.Context, userID string) error {
	return f.client.Set(ctx, presenceKey(userID), "true", presenceTTL).Err()
}

func (f *Feed) SetUserOffline(ctx context.Context, userID string) error {
	return f.client.Del(ctx, presenceKey(userID)).Err()
}

func (f *Feed) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	_, err := f.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

func presenceKey(userID string) string {
	return fmt.Sprintf("user:%s:online", userID)
}
