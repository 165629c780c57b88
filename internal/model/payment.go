package model

import "time"

// PaymentEvent is a confirmed payment delivered by the payment collaborator.
type PaymentEvent struct {
	ExternalKey string    `json:"external_key"`
	MonthsPaid  int       `json:"months_paid"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Plan 套餐
type Plan struct {
	Months int   `json:"months"`
	Price  int64 `json:"price"`
}
