package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtendedEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("extends from future end", func(t *testing.T) {
		end := now.Add(48 * time.Hour)
		u := &User{Status: StatusAccepted, EndAt: &end}
		got := u.ExtendedEnd(now, 7)
		assert.Equal(t, end.Add(7*24*time.Hour), got)
	})

	t.Run("starts from now when expired", func(t *testing.T) {
		end := now.Add(-time.Hour)
		u := &User{Status: StatusExpired, EndAt: &end}
		got := u.ExtendedEnd(now, 7)
		assert.Equal(t, now.Add(7*24*time.Hour), got)
	})

	t.Run("starts from now without an end", func(t *testing.T) {
		u := &User{Status: StatusPending}
		got := u.ExtendedEnd(now, 1)
		assert.Equal(t, now.Add(24*time.Hour), got)
	})
}

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(30 * time.Hour)

	u := &User{Status: StatusAccepted, EndAt: &end}
	assert.Equal(t, 30*time.Hour, u.Remaining(now))

	u.Status = StatusExpired
	assert.Equal(t, time.Duration(0), u.Remaining(now))

	past := now.Add(-time.Minute)
	u = &User{Status: StatusAccepted, EndAt: &past}
	assert.Equal(t, time.Duration(0), u.Remaining(now))
}

func TestAccessStatusValid(t *testing.T) {
	for _, s := range []AccessStatus{StatusPending, StatusAccepted, StatusDenied, StatusExpired} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, AccessStatus("banned").Valid())
	assert.False(t, AccessStatus("").Valid())
}

func TestDisplayName(t *testing.T) {
	u := &User{Id: 42, Username: "neo"}
	assert.Equal(t, "@neo (42)", u.DisplayName())
	u.Username = ""
	assert.Equal(t, "42", u.DisplayName())
}

func TestFailedResults(t *testing.T) {
	results := []ProtocolResult{
		{Protocol: "wg", Ok: true},
		{Protocol: "ov", Ok: false, ExitCode: 1},
		{Protocol: "vl", Ok: true},
	}
	failed := FailedResults(results)
	assert.Len(t, failed, 1)
	assert.Equal(t, "ov", failed[0].Protocol)

	assert.Empty(t, FailedResults([]ProtocolResult{{Ok: true}}))
}
