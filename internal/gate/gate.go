// Package gate decides whether the clinic accepts another reservation.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/schedule"
	"clinicq/reservation-service/internal/store"
)

type Settings interface {
	GetSettings(ctx context.Context) (models.ClinicSettings, error)
	CloseForCapacity(ctx context.Context, now time.Time) (bool, error)
	AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error)
	CountActiveReservations(ctx context.Context, visitDate, session string) (int, error)
}

type Gate struct {
	store Settings
	loc   *time.Location
	now   func() time.Time
}

func New(store Settings, loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{store: store, loc: loc, now: time.Now}
}

// CanAccept reports whether a new ordinary reservation for the given day
// may be created right now. The returned reason is empty on acceptance.
func (g *Gate) CanAccept(ctx context.Context, visitDate string) (bool, string, error) {
	settings, err := g.store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSettingsMissing) {
			return false, "reservations closed", nil
		}
		return false, "", err
	}
	if !settings.IsReservationOpen {
		return false, "reservations closed", nil
	}

	now := g.now().In(g.loc)
	session := schedule.Session(now)
	limit := settings.MaxReservationsMorning
	if session == "afternoon" {
		limit = settings.MaxReservationsAfternoon
	}
	if limit <= 0 {
		return true, "", nil
	}

	count, err := g.store.CountActiveReservations(ctx, visitDate, session)
	if err != nil {
		return false, "", err
	}
	if count < limit {
		return true, "", nil
	}

	g.autoClose(ctx, settings, session, count, limit, now)
	return false, "session full", nil
}

// Enforce closes reservations when the current session has filled up.
// It is run periodically so a session that fills between requests does
// not stay open until the next create attempt.
func (g *Gate) Enforce(ctx context.Context, visitDate string) error {
	settings, err := g.store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSettingsMissing) {
			return nil
		}
		return err
	}
	if !settings.IsReservationOpen || !settings.AutoToggleEnabled {
		return nil
	}

	now := g.now().In(g.loc)
	session := schedule.Session(now)
	limit := settings.MaxReservationsMorning
	if session == "afternoon" {
		limit = settings.MaxReservationsAfternoon
	}
	if limit <= 0 {
		return nil
	}

	count, err := g.store.CountActiveReservations(ctx, visitDate, session)
	if err != nil {
		return err
	}
	if count >= limit {
		g.autoClose(ctx, settings, session, count, limit, now)
	}
	return nil
}

func (g *Gate) autoClose(ctx context.Context, settings models.ClinicSettings, session string, count, limit int, now time.Time) {
	if !settings.AutoToggleEnabled {
		return
	}
	closed, err := g.store.CloseForCapacity(ctx, now)
	if err != nil {
		log.Printf("close for capacity error: %v", err)
		return
	}
	if !closed {
		return
	}
	if _, err := g.store.AppendLog(ctx, models.LogEntry{
		Action:    "auto: reservations closed",
		Details:   fmt.Sprintf("%s session full: %d/%d", session, count, limit),
		User:      "system",
		Timestamp: now.UTC(),
	}); err != nil {
		log.Printf("append capacity log error: %v", err)
	}
}
