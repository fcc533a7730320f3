package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel conditions handled at the presentation boundary and turned into
// user-visible rejections. They never accompany a state mutation.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotPending   = errors.New("user is not pending approval")
	ErrNotAccepted  = errors.New("user has no active access")
	ErrTrialUsed    = errors.New("trial already used")
	ErrPromoInvalid = errors.New("promo code invalid or exhausted")
)

// StoreError wraps a persistence failure with the operation that hit it.
// It is always surfaced to the caller, never retried within the request.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ProvisionError reports which protocols failed during a gateway call,
// carrying exit codes and captured stderr for admin diagnostics.
type ProvisionError struct {
	UserId  int64
	Action  ProvisionAction
	Results []ProtocolResult
}

func (e *ProvisionError) Error() string {
	parts := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		msg := fmt.Sprintf("%s: exit %d", r.Protocol, r.ExitCode)
		if r.Stderr != "" {
			msg += " " + strings.TrimSpace(r.Stderr)
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("provisioning %s for client %d failed: %s",
		e.Action, e.UserId, strings.Join(parts, "; "))
}

// ValidationError rejects caller-supplied input before any state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
