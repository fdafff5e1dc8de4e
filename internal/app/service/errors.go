package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrCodeConflict    = errors.New("short code already in use")
	// ErrNotFound covers absent, expired and foreign-owned links alike.
	ErrNotFound       = errors.New("short link not found")
	ErrStorageFailure = errors.New("storage failure")

	ErrCodeSpaceExhausted = fmt.Errorf("%w: no free short code found", ErrStorageFailure)
)

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
