// Package store provides the service registry backed by SQLite.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed = errors.New("registry unavailable")
	ErrMigrationFailed  = errors.New("registry migration failed")
	ErrTxFailed         = errors.New("registry transaction failed")
	ErrQueryFailed      = errors.New("registry query failed")
)

// StoreError is a registry failure, scoped to the service row it touched
// when there is one.
type StoreError struct {
	Op      string
	Service string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("registry %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("registry %s %q: %s", e.Op, e.Service, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeError(op, service, message string, err error) *StoreError {
	return &StoreError{Op: op, Service: service, Message: message, Err: err}
}
