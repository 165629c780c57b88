package repository

import "errors"

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrDuplicateKey       = errors.New("subscriber external key already exists")
)
