package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/vpn_access_server/internal/model"
)

type SubscriberRepository struct {
	db *gorm.DB
}

func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Create inserts a new record. A unique-key violation is reported as ErrDuplicateKey
// so callers can fall back to the renewal path.
func (r *SubscriberRepository) Create(ctx context.Context, sub *model.Subscriber) error {
	err := r.db.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

// GetByExternalKey returns nil, nil when no record exists.
func (r *SubscriberRepository) GetByExternalKey(ctx context.Context, key string) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := r.db.WithContext(ctx).Where("external_key = ?", key).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// List 返回全部订阅记录，按 id 升序
func (r *SubscriberRepository) List(ctx context.Context) ([]*model.Subscriber, error) {
	var subs []*model.Subscriber
	err := r.db.WithContext(ctx).Order("id ASC").Find(&subs).Error
	return subs, err
}

// Page 分页查询
func (r *SubscriberRepository) Page(ctx context.Context, offset, limit int) ([]*model.Subscriber, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Subscriber{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []*model.Subscriber
	err := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&subs).Error
	return subs, total, err
}

// Update persists the access window of an existing record. The artifact path
// and external key are never rewritten.
func (r *SubscriberRepository) Update(ctx context.Context, sub *model.Subscriber) error {
	res := r.db.WithContext(ctx).Model(&model.Subscriber{}).
		Where("external_key = ?", sub.ExternalKey).
		Updates(map[string]interface{}{
			"activated_at": sub.ActivatedAt,
			"expires_at":   sub.ExpiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}
