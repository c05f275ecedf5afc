package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// MintError is a refusal from the mint endpoint. Message is the endpoint's
// error text.
type MintError struct {
	Command string
	Message string
}

func (e *MintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// StoreError is a non-success response from the object store.
type StoreError struct {
	Op         string
	StatusCode int
	Status     string
	Code       string
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// IsTransient reports whether err is worth retrying: network failures and
// store or endpoint responses of 5xx or 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	var me *MintError
	if errors.As(err, &me) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
