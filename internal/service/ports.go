package service

import (
	"context"
	"time"

	"github.com/qs3c/vpn_access_server/internal/model"
)

// SubscriberStore is the durable source of truth for subscriber records.
// GetByExternalKey returns nil, nil when the key is unknown.
type SubscriberStore interface {
	Create(ctx context.Context, sub *model.Subscriber) error
	GetByExternalKey(ctx context.Context, key string) (*model.Subscriber, error)
	Update(ctx context.Context, sub *model.Subscriber) error
	List(ctx context.Context) ([]*model.Subscriber, error)
	Page(ctx context.Context, offset, limit int) ([]*model.Subscriber, int64, error)
}

// AccessController grants and revokes network access for a client.
type AccessController interface {
	Provision(ctx context.Context, key string) (artifactRef string, err error)
	Block(ctx context.Context, artifactRef string) error
	Unblock(ctx context.Context, key string) error
}

// Notifier tells a subscriber about activation or expiry. The activation
// notice carries the artifact path so the transport can deliver the profile.
type Notifier interface {
	NotifyActivated(ctx context.Context, key string, expiresAt time.Time, artifactPath string) error
	NotifyExpired(ctx context.Context, key string) error
}

// KeyLocker serializes work on one subscriber key.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CacheInvalidator drops cached reads after a write.
type CacheInvalidator interface {
	Invalidate(key string)
}
