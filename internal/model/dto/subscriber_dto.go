package dto

import "time"

// PaymentRequest 支付确认请求
type PaymentRequest struct {
	ExternalKey string    `json:"external_key" binding:"required,max=64"`
	MonthsPaid  int       `json:"months_paid"` // 由套餐目录校验，非法值返回 InvalidPlan
	OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentResponse 支付处理结果
type PaymentResponse struct {
	ExternalKey  string    `json:"external_key"`
	ActivatedAt  time.Time `json:"activated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ArtifactPath string    `json:"artifact_path"`
	Created      bool      `json:"created"`
}

// SubscriberStatus 订阅状态
type SubscriberStatus struct {
	ExternalKey  string    `json:"external_key"`
	Active       bool      `json:"active"`
	ActivatedAt  time.Time `json:"activated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresOn    string    `json:"expires_on"` // yyyy-mm-dd UTC
	ArtifactPath string    `json:"artifact_path"`
}

// SubscriberListResponse 订阅列表
type SubscriberListResponse struct {
	Total       int                `json:"total"`
	Subscribers []SubscriberStatus `json:"subscribers"`
}

// PlanListResponse 套餐列表
type PlanListResponse struct {
	Plans []PlanItem `json:"plans"`
}

type PlanItem struct {
	Months int   `json:"months"`
	Price  int64 `json:"price"`
}

// SweepRequest 手动触发过期扫描
type SweepRequest struct {
	DryRun bool `json:"dry_run"`
}

// SweepResponse 扫描结果
type SweepResponse struct {
	RunID    string         `json:"run_id"`
	DryRun   bool           `json:"dry_run"`
	Scanned  int            `json:"scanned"`
	Expired  int            `json:"expired"`
	Blocked  int            `json:"blocked"`
	Skipped  int            `json:"skipped"`
	Notified int            `json:"notified"`
	Failures []SweepFailure `json:"failures,omitempty"`
	Keys     []string       `json:"keys,omitempty"`
}

type SweepFailure struct {
	ExternalKey string `json:"external_key"`
	Step        string `json:"step"`
	Error       string `json:"error"`
}
