package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const settingsColumns = `
	is_reservation_open, auto_toggle_enabled,
	max_reservations_morning, max_reservations_afternoon,
	reservation_hours, last_auto_toggle, updated_at
`

func (s *Store) GetSettings(ctx context.Context) (models.ClinicSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+settingsColumns+` FROM clinic_settings WHERE id = 1
	`)
	settings, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ClinicSettings{}, store.ErrSettingsMissing
		}
		return models.ClinicSettings{}, err
	}
	return settings, nil
}

// SetReservationOpen is the manual switch. It always turns the automatic
// toggle off so staff decisions stick.
func (s *Store) SetReservationOpen(ctx context.Context, open bool, now time.Time) (models.ClinicSettings, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clinic_settings (id, is_reservation_open, auto_toggle_enabled, updated_at)
		VALUES (1, $1, FALSE, $2)
		ON CONFLICT (id) DO UPDATE
		SET is_reservation_open = $1, auto_toggle_enabled = FALSE, updated_at = $2
		RETURNING `+settingsColumns+`
	`, open, now)
	return scanSettings(row)
}

func (s *Store) SetAutoToggleEnabled(ctx context.Context, enabled bool, now time.Time) (models.ClinicSettings, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clinic_settings (id, auto_toggle_enabled, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET auto_toggle_enabled = $1, updated_at = $2
		RETURNING `+settingsColumns+`
	`, enabled, now)
	return scanSettings(row)
}

func (s *Store) UpdateReservationLimits(ctx context.Context, morning, afternoon int, now time.Time) (models.ClinicSettings, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clinic_settings (id, max_reservations_morning, max_reservations_afternoon, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET max_reservations_morning = $1, max_reservations_afternoon = $2, updated_at = $3
		RETURNING `+settingsColumns+`
	`, morning, afternoon, now)
	return scanSettings(row)
}

func (s *Store) UpdateReservationHours(ctx context.Context, hours json.RawMessage, now time.Time) (models.ClinicSettings, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clinic_settings (id, reservation_hours, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET reservation_hours = $1, updated_at = $2
		RETURNING `+settingsColumns+`
	`, []byte(hours), now)
	return scanSettings(row)
}

// ApplyAutoToggle flips the open flag only while the automatic toggle is
// still enabled and the flag actually differs. The guard keeps a slow
// trigger run from undoing a manual change made in between.
func (s *Store) ApplyAutoToggle(ctx context.Context, open bool, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clinic_settings
		SET is_reservation_open = $1, last_auto_toggle = $2, updated_at = $2
		WHERE id = 1 AND auto_toggle_enabled AND is_reservation_open <> $1
	`, open, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CloseForCapacity is an automatic flip like ApplyAutoToggle, so it
// stamps last_auto_toggle too.
func (s *Store) CloseForCapacity(ctx context.Context, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clinic_settings
		SET is_reservation_open = FALSE, last_auto_toggle = $1, updated_at = $1
		WHERE id = 1 AND auto_toggle_enabled AND is_reservation_open
	`, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error) {
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (log_id, action, details, user_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.LogID, entry.Action, nullIfEmpty(entry.Details), entry.User, entry.Timestamp)
	if err != nil {
		return models.LogEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT log_id, action, details, user_name, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		var detailsNull sql.NullString
		if err := rows.Scan(&entry.LogID, &entry.Action, &detailsNull, &entry.User, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Details = detailsNull.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) DeleteLog(ctx context.Context, logID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE log_id = $1`, logID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrLogNotFound
	}
	return nil
}

func (s *Store) DeleteLogs(ctx context.Context, logIDs []string) (int, error) {
	if len(logIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE log_id = ANY($1)`, logIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanSettings(row pgx.Row) (models.ClinicSettings, error) {
	var settings models.ClinicSettings
	var hours []byte
	var lastToggleNull sql.NullTime
	if err := row.Scan(
		&settings.IsReservationOpen, &settings.AutoToggleEnabled,
		&settings.MaxReservationsMorning, &settings.MaxReservationsAfternoon,
		&hours, &lastToggleNull, &settings.UpdatedAt,
	); err != nil {
		return models.ClinicSettings{}, err
	}
	if len(hours) > 0 {
		settings.ReservationHours = json.RawMessage(hours)
	}
	settings.LastAutoToggle = nullTimePtr(lastToggleNull)
	return settings, nil
}
