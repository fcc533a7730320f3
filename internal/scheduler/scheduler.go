// Package scheduler runs the reconciliation jobs: the expiry sweep, the
// day- and hour-level renewal reminders, and the daily store backup. The
// trigger mechanism is a plain minute ticker with per-period bookkeeping;
// the job bodies are what matters and each is safe to run repeatedly.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matrixvpn/entity"
	"matrixvpn/internal/config"
	"matrixvpn/lib/sl"
)

// Lifecycle is the slice of the core the jobs drive.
type Lifecycle interface {
	Expire(ctx context.Context, id int64) error
}

// Store is the read/backup surface the jobs scan.
type Store interface {
	ListByStatus(ctx context.Context, status entity.AccessStatus) ([]*entity.User, error)
	Backup(ctx context.Context, destPath string) error
}

// Notifier delivers job outcomes to the chat layer. Implemented by bot.TgBot.
type Notifier interface {
	ExpiryNotice(user *entity.User)
	ExpiryAdminAlert(user *entity.User)
	Reminder(user *entity.User, remaining time.Duration)
	DeliverBackup(path, caption string)
	AlertAdmins(msg string)
}

type Scheduler struct {
	core   Lifecycle
	store  Store
	notify Notifier
	log    *slog.Logger
	conf   config.AccessConfig

	now func() time.Time

	// skip-if-running guards: a slow sweep must not be re-entered by the
	// next tick, it would double-process records still mid-transition
	expireMu sync.Mutex
	dayMu    sync.Mutex
	hourMu   sync.Mutex
	backupMu sync.Mutex

	// last fired period keys, e.g. "2026-08-30" / "2026-08-30T15"
	lastExpire time.Time
	lastHour   string
	lastDay    string
	lastBackup string

	stopCh chan struct{}
	done   chan struct{}
}

func New(core Lifecycle, store Store, notify Notifier, conf config.AccessConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		core:   core,
		store:  store,
		notify: notify,
		log:    log.With(sl.Module("scheduler")),
		conf:   conf,
		now:    time.Now,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		s.log.With(
			slog.Int("expire_interval_min", s.conf.ExpireIntervalM),
			slog.Int("reminder_hour", s.conf.ReminderHour),
			slog.Int("backup_hour", s.conf.BackupHour),
		).Info("scheduler started")
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.done
}

// tick fires whichever jobs are due. Period keys keep a job from firing
// twice within its period even when ticks drift past the boundary.
func (s *Scheduler) tick() {
	now := s.now()

	interval := time.Duration(s.conf.ExpireIntervalM) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if now.Sub(s.lastExpire) >= interval {
		s.lastExpire = now
		go s.runGuarded(&s.expireMu, "expire", s.ExpireSweep)
	}

	hourKey := now.UTC().Format("2006-01-02T15")
	if s.lastHour != hourKey {
		s.lastHour = hourKey
		go s.runGuarded(&s.hourMu, "hour reminders", s.HourReminders)
	}

	dayKey := now.UTC().Format("2006-01-02")
	if s.lastDay != dayKey && now.UTC().Hour() >= s.conf.ReminderHour {
		s.lastDay = dayKey
		go s.runGuarded(&s.dayMu, "day reminders", s.DayReminders)
	}
	if s.lastBackup != dayKey && now.UTC().Hour() >= s.conf.BackupHour {
		s.lastBackup = dayKey
		go s.runGuarded(&s.backupMu, "backup", s.RunBackup)
	}
}

func (s *Scheduler) runGuarded(mu *sync.Mutex, name string, job func(ctx context.Context)) {
	if !mu.TryLock() {
		s.log.With(slog.String("job", name)).Warn("previous run still executing, skipping")
		return
	}
	defer mu.Unlock()
	job(context.Background())
}
