package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/vpn_access_server/internal/model"
)

var keySeq atomic.Int64

// BaseTime is a fixed UTC instant used across tests.
var BaseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewSubscriber 构造未持久化的订阅记录
func NewSubscriber(opts ...func(*model.Subscriber)) *model.Subscriber {
	key := fmt.Sprintf("%d", 100000+keySeq.Add(1))
	sub := &model.Subscriber{
		ExternalKey:  key,
		ArtifactPath: fmt.Sprintf("/tmp/openvpn-clients/client%s.ovpn", key),
		ActivatedAt:  BaseTime,
		ExpiresAt:    BaseTime.Add(720 * time.Hour),
	}

	for _, opt := range opts {
		opt(sub)
	}
	return sub
}

// TestSubscriber 创建测试订阅记录
func TestSubscriber(t *testing.T, db *gorm.DB, opts ...func(*model.Subscriber)) *model.Subscriber {
	t.Helper()

	sub := NewSubscriber(opts...)
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscriber: %v", err)
	}
	return sub
}

// WithExternalKey 设置外部标识，同时更新 artifact 路径
func WithExternalKey(key string) func(*model.Subscriber) {
	return func(s *model.Subscriber) {
		s.ExternalKey = key
		s.ArtifactPath = fmt.Sprintf("/tmp/openvpn-clients/client%s.ovpn", key)
	}
}

func WithArtifactPath(path string) func(*model.Subscriber) {
	return func(s *model.Subscriber) {
		s.ArtifactPath = path
	}
}

// WithWindow 设置有效期
func WithWindow(activatedAt, expiresAt time.Time) func(*model.Subscriber) {
	return func(s *model.Subscriber) {
		s.ActivatedAt = activatedAt
		s.ExpiresAt = expiresAt
	}
}

// WithExpiresAt 只设置过期时间
func WithExpiresAt(expiresAt time.Time) func(*model.Subscriber) {
	return func(s *model.Subscriber) {
		if s.ActivatedAt.After(expiresAt) {
			s.ActivatedAt = expiresAt
		}
		s.ExpiresAt = expiresAt
	}
}
