package services

import (
	"errors"
	"fmt"
	"strings"

	"progression-system/store"
)

var (
	// ErrNotAuthenticated: no current user identity; nothing is read or written.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrValidation wraps every rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrNotImplemented is returned by declared-but-empty extension points.
	ErrNotImplemented = errors.New("not implemented")

	ErrTransactionAborted = store.ErrTransactionAborted
	ErrRecordNotFound     = store.ErrRecordNotFound
)

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrNotAuthenticated
	}
	return nil
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
