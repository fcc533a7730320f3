package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"matrixvpn/entity"
	"matrixvpn/lib/clock"
	"matrixvpn/lib/sl"
)

// ExpireSweep moves every accepted user whose window has closed to expired,
// revokes their configs and notifies both sides. Users are processed
// independently: one failed revoke is collected and reported, the sweep
// continues.
func (s *Scheduler) ExpireSweep(ctx context.Context) {
	now := s.now()
	users, err := s.store.ListByStatus(ctx, entity.StatusAccepted)
	if err != nil {
		s.log.Error("expire sweep: listing users", sl.Err(err))
		return
	}

	var failures []string
	expired := 0
	for _, user := range users {
		if user.EndAt == nil || user.EndAt.After(now) {
			continue
		}
		if err = s.core.Expire(ctx, user.Id); err != nil {
			s.log.With(slog.Int64("user_id", user.Id), sl.Err(err)).Error("expire sweep: transition failed")
			failures = append(failures, fmt.Sprintf("%s: %v", user.DisplayName(), err))
			var provErr *entity.ProvisionError
			if !errors.As(err, &provErr) {
				// the store transition itself failed, the user is still
				// accepted; the next sweep retries
				continue
			}
			// revoke-only failure: the status change held, notify as usual
		}
		expired++
		s.notify.ExpiryNotice(user)
		s.notify.ExpiryAdminAlert(user)
	}

	if expired > 0 {
		s.log.With(slog.Int("expired", expired)).Info("expire sweep finished")
	}
	if len(failures) > 0 {
		s.notify.AlertAdmins("Expire sweep finished with failures:\n" + strings.Join(failures, "\n"))
	}
}

// DayReminders sends a renewal reminder to accepted users whose remaining
// time crosses one of the day thresholds. The job runs once per day, so a
// threshold matches exactly one run per crossing.
func (s *Scheduler) DayReminders(ctx context.Context) {
	now := s.now()
	users, err := s.store.ListByStatus(ctx, entity.StatusAccepted)
	if err != nil {
		s.log.Error("day reminders: listing users", sl.Err(err))
		return
	}
	for _, user := range users {
		if user.EndAt == nil {
			continue
		}
		remaining := user.EndAt.Sub(now)
		days := clock.WholeDays(remaining)
		for _, threshold := range s.conf.DayThresholds {
			if days == threshold {
				s.notify.Reminder(user, remaining)
				break
			}
		}
	}
}

// HourReminders is the finer-grained pass for the last day: hourly runs,
// hour thresholds, restricted to users with less than 24h remaining.
func (s *Scheduler) HourReminders(ctx context.Context) {
	now := s.now()
	users, err := s.store.ListByStatus(ctx, entity.StatusAccepted)
	if err != nil {
		s.log.Error("hour reminders: listing users", sl.Err(err))
		return
	}
	for _, user := range users {
		if user.EndAt == nil {
			continue
		}
		remaining := user.EndAt.Sub(now)
		if clock.WholeDays(remaining) != 0 {
			continue
		}
		hours := clock.WholeHours(remaining)
		for _, threshold := range s.conf.HourThresholds {
			if hours == threshold {
				s.notify.Reminder(user, remaining)
				break
			}
		}
	}
}

// RunBackup snapshots the store and hands the file to the admin chat.
func (s *Scheduler) RunBackup(ctx context.Context) {
	dest := filepath.Join(os.TempDir(), "matrixvpn-backup.db")
	if err := s.store.Backup(ctx, dest); err != nil {
		s.log.Error("backup failed", sl.Err(err))
		s.notify.AlertAdmins(fmt.Sprintf("Backup failed: %v", err))
		return
	}
	s.notify.DeliverBackup(dest, clock.Now())
	s.log.Info("backup delivered")
}
