// Package toggle keeps the reservation window in sync with the weekly
// schedule.
package toggle

import (
	"context"
	"errors"
	"log"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/schedule"
	"clinicq/reservation-service/internal/store"
)

const (
	OutcomeDisabled = "auto-toggle disabled"
	OutcomeNoChange = "no change"
)

type Settings interface {
	GetSettings(ctx context.Context) (models.ClinicSettings, error)
	ApplyAutoToggle(ctx context.Context, open bool, now time.Time) (bool, error)
	AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error)
}

type Trigger struct {
	store Settings
	loc   *time.Location
	now   func() time.Time
}

func New(store Settings, loc *time.Location) *Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return &Trigger{store: store, loc: loc, now: time.Now}
}

// Run evaluates the schedule once and flips the open flag when it
// disagrees with the current state. The returned string describes the
// outcome and is what the manual trigger endpoint reports.
func (t *Trigger) Run(ctx context.Context) (string, error) {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSettingsMissing) {
			return OutcomeDisabled, nil
		}
		return "", err
	}
	if !settings.AutoToggleEnabled {
		return OutcomeDisabled, nil
	}

	now := t.now()
	hours, err := schedule.Parse(settings.ReservationHours)
	if err != nil {
		// A broken schedule document means the clinic should not be
		// treated as open.
		log.Printf("reservation hours parse error: %v", err)
		hours = schedule.WeeklyHours{}
	}
	wantOpen := schedule.ShouldBeOpen(now.In(t.loc), hours)
	if wantOpen == settings.IsReservationOpen {
		return OutcomeNoChange, nil
	}

	switched, err := t.store.ApplyAutoToggle(ctx, wantOpen, now.UTC())
	if err != nil {
		return "", err
	}
	if !switched {
		// Someone changed the settings between our read and the update.
		return OutcomeNoChange, nil
	}

	action := "auto: reservations closed"
	if wantOpen {
		action = "auto: reservations opened"
	}
	if _, err := t.store.AppendLog(ctx, models.LogEntry{
		Action:    action,
		Details:   "schedule update",
		User:      "system",
		Timestamp: now.UTC(),
	}); err != nil {
		log.Printf("append toggle log error: %v", err)
	}

	if wantOpen {
		return "switched: true", nil
	}
	return "switched: false", nil
}

func Start(ctx context.Context, interval time.Duration, t *Trigger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Run(ctx); err != nil {
				log.Printf("auto toggle error: %v", err)
			}
		}
	}
}
