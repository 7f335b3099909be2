package models

import (
	"encoding/json"
	"time"
)

type ClinicSettings struct {
	IsReservationOpen        bool            `json:"is_reservation_open"`
	AutoToggleEnabled        bool            `json:"auto_toggle_enabled"`
	MaxReservationsMorning   int             `json:"max_reservations_morning"`
	MaxReservationsAfternoon int             `json:"max_reservations_afternoon"`
	ReservationHours         json.RawMessage `json:"reservation_hours,omitempty"`
	LastAutoToggle           *time.Time      `json:"last_auto_toggle,omitempty"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

type LogEntry struct {
	LogID     string    `json:"log_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}
