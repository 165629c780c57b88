package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qs3c/vpn_access_server/internal/model"
)

// MemorySubscriberRepository is an in-process store with the same contract as
// SubscriberRepository. Records are copied on the way in and out.
type MemorySubscriberRepository struct {
	mu     sync.RWMutex
	byKey  map[string]*model.Subscriber
	nextID int64

	// FailNext makes the next write return this error, then resets.
	FailNext error
}

func NewMemorySubscriberRepository() *MemorySubscriberRepository {
	return &MemorySubscriberRepository{byKey: make(map[string]*model.Subscriber)}
}

func (r *MemorySubscriberRepository) Create(_ context.Context, sub *model.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(); err != nil {
		return err
	}
	if _, exists := r.byKey[sub.ExternalKey]; exists {
		return ErrDuplicateKey
	}

	r.nextID++
	now := time.Now().UTC()
	sub.ID = r.nextID
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	r.byKey[sub.ExternalKey] = &cp
	return nil
}

func (r *MemorySubscriberRepository) GetByExternalKey(_ context.Context, key string) (*model.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (r *MemorySubscriberRepository) List(_ context.Context) ([]*model.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]*model.Subscriber, 0, len(r.byKey))
	for _, sub := range r.byKey {
		cp := *sub
		subs = append(subs, &cp)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (r *MemorySubscriberRepository) Page(ctx context.Context, offset, limit int) ([]*model.Subscriber, int64, error) {
	all, _ := r.List(ctx)
	total := int64(len(all))
	if offset >= len(all) {
		return []*model.Subscriber{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemorySubscriberRepository) Update(_ context.Context, sub *model.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(); err != nil {
		return err
	}
	stored, ok := r.byKey[sub.ExternalKey]
	if !ok {
		return ErrSubscriberNotFound
	}
	stored.ActivatedAt = sub.ActivatedAt
	stored.ExpiresAt = sub.ExpiresAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// Len 返回记录数
func (r *MemorySubscriberRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func (r *MemorySubscriberRepository) takeFailure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}
