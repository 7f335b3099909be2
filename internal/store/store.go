package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/reservation-service/internal/models"
)

type CreateReservationInput struct {
	RequestID  string
	VisitDate  string
	VisitType  string
	Name       string
	Birthdate  string
	Phone      string
	CardNumber string
	CreatedAt  time.Time
}

type ReservationActionInput struct {
	ReservationID string
	Action        string
	OccurredAt    time.Time
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, bool, error)
	CreateVIPReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, bool, error)
	FindReservationByRequestID(ctx context.Context, requestID string) (models.Reservation, bool, error)
	GetReservation(ctx context.Context, reservationID string) (models.Reservation, error)
	ListReservations(ctx context.Context, visitDate string) ([]models.Reservation, error)
	ApplyReservationAction(ctx context.Context, input ReservationActionInput) (models.Reservation, error)
	CountActiveReservations(ctx context.Context, visitDate, session string) (int, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (models.ClinicSettings, error)
	SetReservationOpen(ctx context.Context, open bool, now time.Time) (models.ClinicSettings, error)
	SetAutoToggleEnabled(ctx context.Context, enabled bool, now time.Time) (models.ClinicSettings, error)
	UpdateReservationLimits(ctx context.Context, morning, afternoon int, now time.Time) (models.ClinicSettings, error)
	UpdateReservationHours(ctx context.Context, hours json.RawMessage, now time.Time) (models.ClinicSettings, error)
	ApplyAutoToggle(ctx context.Context, open bool, now time.Time) (bool, error)
	CloseForCapacity(ctx context.Context, now time.Time) (bool, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error)
	ListLogs(ctx context.Context, limit int) ([]models.LogEntry, error)
	DeleteLog(ctx context.Context, logID string) error
	DeleteLogs(ctx context.Context, logIDs []string) (int, error)
}

// Store is the full persistence surface the service is wired against.
type Store interface {
	ReservationStore
	SettingsStore
	LogStore
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	VisitDate string          `json:"visit_date"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
