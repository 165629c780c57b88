package model

import (
	"time"
)

// Subscriber is the access window of one paying client. The record is created
// on first payment and only its window changes afterwards.
type Subscriber struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ExternalKey  string    `gorm:"size:64;not null;uniqueIndex" json:"external_key"`
	ArtifactPath string    `gorm:"column:client_artifact_path;size:500;not null" json:"artifact_path"`
	ActivatedAt  time.Time `gorm:"not null" json:"activated_at"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}

// IsActive 判断在 now 时刻是否仍在有效期内
func (s *Subscriber) IsActive(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
