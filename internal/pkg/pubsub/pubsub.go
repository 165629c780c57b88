package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultChannel = "subscriber_events"
)

// 事件类型
const (
	EventActivated     = "activated"
	EventExpired       = "expired"
	EventPaymentFailed = "payment_failed"
)

// SubscriberEvent is what the chat transport receives to message a subscriber.
type SubscriberEvent struct {
	Type         string     `json:"type"`
	ExternalKey  string     `json:"external_key"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"` // 客户端配置文件，由聊天端发送给用户
	Reason       string     `json:"reason,omitempty"`
	SentAt       time.Time  `json:"sent_at"`
}

// Publisher Redis 发布者
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish 发布事件
func (p *Publisher) Publish(ctx context.Context, event *SubscriberEvent) error {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber event: %w", err)
	}

	return p.client.Publish(ctx, p.channel, data).Err()
}

func (p *Publisher) NotifyActivated(ctx context.Context, key string, expiresAt time.Time, artifactPath string) error {
	expiresAt = expiresAt.UTC()
	return p.Publish(ctx, &SubscriberEvent{
		Type:         EventActivated,
		ExternalKey:  key,
		ExpiresAt:    &expiresAt,
		ArtifactPath: artifactPath,
	})
}

func (p *Publisher) NotifyExpired(ctx context.Context, key string) error {
	return p.Publish(ctx, &SubscriberEvent{Type: EventExpired, ExternalKey: key})
}

// NotifyPaymentFailed tells the payer their payment could not be applied.
func (p *Publisher) NotifyPaymentFailed(ctx context.Context, key, reason string) error {
	return p.Publish(ctx, &SubscriberEvent{Type: EventPaymentFailed, ExternalKey: key, Reason: reason})
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel}
}

// Subscribe 订阅事件，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*SubscriberEvent)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// 等待订阅确认，避免丢失紧随其后的消息
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event SubscriberEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue // 忽略解析错误
			}

			handler(&event)
		}
	}
}
