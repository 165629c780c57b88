package service

import (
	"context"
	"errors"
)

var (
	ErrInvalidKey         = errors.New("invalid subscriber key")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrPersistenceFailed  = errors.New("persistence failed")
	ErrBlockFailed        = errors.New("block failed")
	ErrUnblockFailed      = errors.New("unblock failed")
	ErrLockUnavailable    = errors.New("subscriber lock unavailable")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// IsRetryable reports whether err is worth retrying. Invalid input and failed
// provisioning are terminal; store and lock failures are retryable; block and
// unblock failures are retryable when the underlying command error says so.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidPlan) || errors.Is(err, context.Canceled) {
		return false
	}
	// 证书可能已签发一半，需要人工处理
	if errors.Is(err, ErrProvisioningFailed) {
		return false
	}
	if errors.Is(err, ErrPersistenceFailed) || errors.Is(err, ErrLockUnavailable) {
		return true
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
