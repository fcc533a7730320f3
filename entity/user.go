package entity

import (
	"fmt"
	"time"
)

// AccessStatus is the lifecycle state of a user's VPN entitlement.
// Transitions: (none) → pending → accepted → expired → pending (re-request);
// pending → denied → pending (re-request). See impl/core for the rules.
type AccessStatus string

const (
	StatusPending  AccessStatus = "pending"
	StatusAccepted AccessStatus = "accepted"
	StatusDenied   AccessStatus = "denied"
	StatusExpired  AccessStatus = "expired"
)

func (s AccessStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// User is one row in the users table: a distinct chat identity and its
// entitlement record. Id is the Telegram chat id and is never reused.
type User struct {
	Id           int64        `json:"id"`
	Username     string       `json:"username"`
	Status       AccessStatus `json:"status"`
	GrantedAt    *time.Time   `json:"access_granted_at,omitempty"`
	DurationDays int          `json:"access_duration_days,omitempty"`
	// EndAt is the authoritative expiry instant while Status is accepted.
	// For a fresh pending record it holds the creation time as a "no access
	// yet" sentinel.
	EndAt *time.Time `json:"access_end_at,omitempty"`
	// LastNotificationId tracks the most recent reminder message so the next
	// send can supersede it instead of piling up in the chat.
	LastNotificationId int64 `json:"last_notification_id,omitempty"`
	// HasUsedTrial is one-way: once true it never goes back.
	HasUsedTrial bool `json:"has_used_trial"`
}

func (u *User) IsAccepted() bool {
	return u.Status == StatusAccepted
}

func (u *User) IsPending() bool {
	return u.Status == StatusPending
}

// Remaining returns the time left on the current grant, zero when the user
// is not accepted or the window has already closed.
func (u *User) Remaining(now time.Time) time.Duration {
	if !u.IsAccepted() || u.EndAt == nil {
		return 0
	}
	d := u.EndAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ExtendedEnd computes the new expiry for an "add N days" grant: it extends
// from the current end when that end is still in the future, and from now
// otherwise. Unused remaining time is never discarded.
func (u *User) ExtendedEnd(now time.Time, days int) time.Time {
	base := now
	if u.EndAt != nil && u.EndAt.After(now) {
		base = *u.EndAt
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

func (u *User) DisplayName() string {
	if u.Username != "" {
		return fmt.Sprintf("@%s (%d)", u.Username, u.Id)
	}
	return fmt.Sprintf("%d", u.Id)
}
