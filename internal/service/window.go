package service

import (
	"time"

	"github.com/qs3c/vpn_access_server/internal/model"
)

// ComputeExpired returns the records whose window ended strictly before now,
// in input order. The input is not modified.
func ComputeExpired(now time.Time, subs []*model.Subscriber) []*model.Subscriber {
	var expired []*model.Subscriber
	for _, sub := range subs {
		if sub != nil && sub.ExpiresAt.Before(now) {
			expired = append(expired, sub)
		}
	}
	return expired
}

// ExtendWindow applies a paid duration to an existing record. Time left on an
// unexpired window is kept; a lapsed window restarts at now.
func ExtendWindow(sub *model.Subscriber, d time.Duration, now time.Time) {
	base := sub.ExpiresAt
	if now.After(base) {
		base = now
	}
	sub.ActivatedAt = now
	sub.ExpiresAt = base.Add(d)
}
