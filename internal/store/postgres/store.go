package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/schedule"
	"clinicq/reservation-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ordinaryCounter = "ordinary"

type Store struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewStore(pool *pgxpool.Pool, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{pool: pool, loc: loc}
}

func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findReservationByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Reservation{}, false, err
		}
		return existing, false, nil
	}

	rawCount, err := lockOrdinaryCounter(ctx, tx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if rawCount == 0 {
		// Counter row is fresh or was reset. Resume above the highest
		// number ever issued so nothing is reused.
		rawCount, err = maxReceptionNumber(ctx, tx)
		if err != nil {
			return models.Reservation{}, false, err
		}
	}
	next := store.NextOrdinaryNumber(rawCount)

	reservation, err := insertReservation(ctx, tx, input, models.LaneOrdinary, next, s.loc)
	if err != nil {
		return models.Reservation{}, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE reservation_counters SET count = $1 WHERE name = $2
	`, next, ordinaryCounter); err != nil {
		return models.Reservation{}, false, err
	}

	if err = bumpDailyCounter(ctx, tx, reservation.VisitDate); err != nil {
		return models.Reservation{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "reservation.created", reservation); err != nil {
		return models.Reservation{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func (s *Store) CreateVIPReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, bool, error) {
	used, err := s.usedVIPNumbers(ctx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	candidate := store.NextVIPNumber(used)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findReservationByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Reservation{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Reservation{}, false, err
		}
		return existing, false, nil
	}

	// The scan ran outside this transaction, so the candidate may have
	// been taken in the meantime. Verify before inserting.
	var taken bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reservations WHERE reception_number = $1)
	`, candidate)
	if err = row.Scan(&taken); err != nil {
		return models.Reservation{}, false, err
	}
	if taken {
		err = store.ErrNumberConflict
		return models.Reservation{}, false, err
	}

	reservation, err := insertReservation(ctx, tx, input, models.LaneVIP, candidate, s.loc)
	if err != nil {
		return models.Reservation{}, false, err
	}

	if err = bumpDailyCounter(ctx, tx, reservation.VisitDate); err != nil {
		return models.Reservation{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "reservation.created", reservation); err != nil {
		return models.Reservation{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func (s *Store) usedVIPNumbers(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reception_number FROM reservations WHERE reception_number >= $1
	`, store.MinVIPNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[int64]bool)
	for rows.Next() {
		var number int64
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		used[number] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return used, nil
}

// FindReservationByRequestID looks up a reservation created by an
// earlier submission carrying the same request id.
func (s *Store) FindReservationByRequestID(ctx context.Context, requestID string) (models.Reservation, bool, error) {
	return findReservationByRequestID(ctx, s.pool, requestID)
}

func (s *Store) GetReservation(ctx context.Context, reservationID string) (models.Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT reservation_id, reception_number, lane, visit_date, visit_type, status,
			name, birthdate, phone, card_number, request_id, created_at, accepted_at
		FROM reservations
		WHERE reservation_id = $1
	`, reservationID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, store.ErrReservationNotFound
		}
		return models.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) ListReservations(ctx context.Context, visitDate string) ([]models.Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT reservation_id, reception_number, lane, visit_date, visit_type, status,
			name, birthdate, phone, card_number, request_id, created_at, accepted_at
		FROM reservations
		WHERE visit_date = $1
		ORDER BY reception_number ASC
	`, visitDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *Store) ApplyReservationAction(ctx context.Context, input store.ReservationActionInput) (models.Reservation, error) {
	target, ok := store.TargetStatus(input.Action)
	if !ok {
		return models.Reservation{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var current string
	row := tx.QueryRow(ctx, `
		SELECT status FROM reservations WHERE reservation_id = $1 FOR UPDATE
	`, input.ReservationID)
	if err = row.Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrReservationNotFound
		}
		return models.Reservation{}, err
	}
	if !store.ValidTransition(input.Action, current) {
		err = store.ErrInvalidState
		return models.Reservation{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		UPDATE reservations
		SET status = $1
		WHERE reservation_id = $2
		RETURNING reservation_id, reception_number, lane, visit_date, visit_type, status,
			name, birthdate, phone, card_number, request_id, created_at, accepted_at
	`
	args := []interface{}{target, input.ReservationID}
	if input.Action == "check-in" {
		// accepted_at records the first check-in and never moves.
		query = `
			UPDATE reservations
			SET status = $1, accepted_at = COALESCE(accepted_at, $3)
			WHERE reservation_id = $2
			RETURNING reservation_id, reception_number, lane, visit_date, visit_type, status,
				name, birthdate, phone, card_number, request_id, created_at, accepted_at
		`
		args = append(args, occurredAt)
	}

	reservation, err := scanReservation(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Reservation{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "reservation."+input.Action, reservation); err != nil {
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) CountActiveReservations(ctx context.Context, visitDate, session string) (int, error) {
	query := `
		SELECT COUNT(*) FROM reservations
		WHERE visit_date = $1 AND status <> $2
	`
	args := []interface{}{visitDate, models.StatusCancelled}
	if session != "" {
		query += " AND session = $3"
		args = append(args, session)
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, visit_date, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.VisitDate, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func lockOrdinaryCounter(ctx context.Context, tx pgx.Tx) (int64, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservation_counters (name, count)
		VALUES ($1, 0)
		ON CONFLICT (name) DO NOTHING
	`, ordinaryCounter)
	if err != nil {
		return 0, err
	}

	var count int64
	row := tx.QueryRow(ctx, `
		SELECT count FROM reservation_counters WHERE name = $1 FOR UPDATE
	`, ordinaryCounter)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// bumpDailyCounter keeps a running admission count per clinic day. The
// counter only ever grows, so it stays correct even after reservation
// rows are deleted outright.
func bumpDailyCounter(ctx context.Context, tx pgx.Tx, visitDate string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_counters (visit_date, count)
		VALUES ($1, 1)
		ON CONFLICT (visit_date) DO UPDATE SET count = daily_counters.count + 1
	`, visitDate)
	return err
}

// maxReceptionNumber covers both lanes on purpose: after a counter reset
// the next ordinary number must clear every number ever issued.
func maxReceptionNumber(ctx context.Context, tx pgx.Tx) (int64, error) {
	var max int64
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(reception_number), 0) FROM reservations
	`)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func insertReservation(ctx context.Context, tx pgx.Tx, input store.CreateReservationInput, lane string, number int64, loc *time.Location) (models.Reservation, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	session := schedule.Session(createdAt.In(loc))

	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (
			reservation_id, request_id, reception_number, lane, visit_date, visit_type,
			session, status, name, birthdate, phone, card_number, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING reservation_id, reception_number, lane, visit_date, visit_type, status,
			name, birthdate, phone, card_number, request_id, created_at, accepted_at
	`, uuid.NewString(), input.RequestID, number, lane, input.VisitDate, nullIfEmpty(input.VisitType),
		session, models.StatusUnregistered, nullIfEmpty(input.Name), nullIfEmpty(input.Birthdate),
		nullIfEmpty(input.Phone), nullIfEmpty(input.CardNumber), createdAt)
	reservation, err := scanReservation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Reservation{}, store.ErrNumberConflict
		}
		return models.Reservation{}, err
	}
	return reservation, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, reservation models.Reservation) error {
	payload, err := json.Marshal(map[string]interface{}{
		"reservation_id":   reservation.ReservationID,
		"reception_number": reservation.ReceptionNumber,
		"lane":             reservation.Lane,
		"visit_date":       reservation.VisitDate,
		"status":           reservation.Status,
		"request_id":       reservation.RequestID,
		"created_at":       reservation.CreatedAt,
		"accepted_at":      reservation.AcceptedAt,
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, visit_date, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), reservation.VisitDate, eventType, payload, time.Now().UTC())
	return err
}

// queryRower is satisfied by both pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findReservationByRequestID(ctx context.Context, db queryRower, requestID string) (models.Reservation, bool, error) {
	row := db.QueryRow(ctx, `
		SELECT reservation_id, reception_number, lane, visit_date, visit_type, status,
			name, birthdate, phone, card_number, request_id, created_at, accepted_at
		FROM reservations
		WHERE request_id = $1
	`, requestID)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, false, nil
		}
		return models.Reservation{}, false, err
	}
	return reservation, true, nil
}

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var reservation models.Reservation
	var visitTypeNull, nameNull, birthdateNull, phoneNull, cardNull sql.NullString
	var acceptedAtNull sql.NullTime
	if err := row.Scan(
		&reservation.ReservationID, &reservation.ReceptionNumber, &reservation.Lane,
		&reservation.VisitDate, &visitTypeNull, &reservation.Status,
		&nameNull, &birthdateNull, &phoneNull, &cardNull,
		&reservation.RequestID, &reservation.CreatedAt, &acceptedAtNull,
	); err != nil {
		return models.Reservation{}, err
	}
	reservation.VisitType = visitTypeNull.String
	reservation.Name = nameNull.String
	reservation.Birthdate = birthdateNull.String
	reservation.Phone = phoneNull.String
	reservation.CardNumber = cardNull.String
	reservation.AcceptedAt = nullTimePtr(acceptedAtNull)
	return reservation, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
