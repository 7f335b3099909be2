package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testVisitDate = "2026-08-31"

func TestCreateReservationConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const workers = 12
	var wg sync.WaitGroup
	results := make(chan int64, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, _, err := st.CreateReservation(ctx, newCreateInput())
			if err != nil {
				errs <- err
				return
			}
			results <- reservation.ReceptionNumber
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("create reservation: %v", err)
	}

	seen := make(map[int64]bool)
	for number := range results {
		if number%6 == 0 {
			t.Fatalf("issued number %d divisible by 6", number)
		}
		if number <= 6 {
			t.Fatalf("issued number %d within reserved range", number)
		}
		if seen[number] {
			t.Fatalf("number %d issued twice", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct numbers, got %d", workers, len(seen))
	}
	if count := dailyCount(t, ctx, pool); count != workers {
		t.Fatalf("daily counter=%d, want %d", count, workers)
	}
}

func TestCreateReservationIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	input := newCreateInput()
	first, created, err := st.CreateReservation(ctx, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first call should create")
	}
	second, created, err := st.CreateReservation(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatal("replay must not create")
	}
	if first.ReservationID != second.ReservationID || first.ReceptionNumber != second.ReceptionNumber {
		t.Fatalf("replay returned a different reservation: %+v vs %+v", first, second)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = 'reservation.created'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 created event, got %d", count)
	}
	if daily := dailyCount(t, ctx, pool); daily != 1 {
		t.Fatalf("replay bumped the daily counter: %d", daily)
	}
}

func TestCounterResetRecovery(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var last int64
	for i := 0; i < 5; i++ {
		reservation, _, err := st.CreateReservation(ctx, newCreateInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		last = reservation.ReceptionNumber
	}

	// Simulate a wiped counter.
	if _, err := pool.Exec(ctx, `UPDATE reservation_counters SET count = 0`); err != nil {
		t.Fatalf("reset counter: %v", err)
	}

	reservation, _, err := st.CreateReservation(ctx, newCreateInput())
	if err != nil {
		t.Fatalf("create after reset: %v", err)
	}
	if reservation.ReceptionNumber <= last {
		t.Fatalf("recovered number %d not above previous max %d", reservation.ReceptionNumber, last)
	}
	if reservation.ReceptionNumber%6 == 0 {
		t.Fatalf("recovered number %d divisible by 6", reservation.ReceptionNumber)
	}
}

func TestCreateVIPReservationFillsGaps(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	numbers := []int64{}
	for i := 0; i < 3; i++ {
		reservation, _, err := st.CreateVIPReservation(ctx, newCreateInput())
		if err != nil {
			t.Fatalf("create vip: %v", err)
		}
		numbers = append(numbers, reservation.ReceptionNumber)
	}
	// 1002 is divisible by 6 and must be skipped.
	want := []int64{1001, 1003, 1004}
	for i, number := range numbers {
		if number != want[i] {
			t.Fatalf("vip numbers = %v, want %v", numbers, want)
		}
	}

	// Cancel 1003 and confirm its number is not reissued.
	reservations, err := st.ListReservations(ctx, testVisitDate)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, reservation := range reservations {
		if reservation.ReceptionNumber == 1003 {
			if _, err := st.ApplyReservationAction(ctx, store.ReservationActionInput{
				ReservationID: reservation.ReservationID,
				Action:        "cancel",
				OccurredAt:    time.Now().UTC(),
			}); err != nil {
				t.Fatalf("cancel: %v", err)
			}
		}
	}
	next, _, err := st.CreateVIPReservation(ctx, newCreateInput())
	if err != nil {
		t.Fatalf("create vip after cancel: %v", err)
	}
	if next.ReceptionNumber != 1005 {
		t.Fatalf("expected 1005 after cancel, got %d", next.ReceptionNumber)
	}
	// The daily counter counts admissions and never goes back down.
	if count := dailyCount(t, ctx, pool); count != 4 {
		t.Fatalf("daily counter=%d, want 4", count)
	}
}

func TestReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	reservation, _, err := st.CreateReservation(ctx, newCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reservation.AcceptedAt != nil {
		t.Fatal("accepted_at must be unset before check-in")
	}

	checkInAt := time.Now().UTC().Truncate(time.Millisecond)
	checkedIn, err := st.ApplyReservationAction(ctx, store.ReservationActionInput{
		ReservationID: reservation.ReservationID,
		Action:        "check-in",
		OccurredAt:    checkInAt,
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if checkedIn.Status != models.StatusCheckedIn || checkedIn.AcceptedAt == nil {
		t.Fatalf("unexpected state after check-in: %+v", checkedIn)
	}
	firstAccepted := *checkedIn.AcceptedAt

	// Repeat check-in is rejected and accepted_at stays put.
	if _, err := st.ApplyReservationAction(ctx, store.ReservationActionInput{
		ReservationID: reservation.ReservationID,
		Action:        "check-in",
		OccurredAt:    time.Now().UTC(),
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	for _, action := range []string{"call", "start", "finish", "pay"} {
		if _, err := st.ApplyReservationAction(ctx, store.ReservationActionInput{
			ReservationID: reservation.ReservationID,
			Action:        action,
			OccurredAt:    time.Now().UTC(),
		}); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}

	final, err := st.GetReservation(ctx, reservation.ReservationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != models.StatusPaid {
		t.Fatalf("status=%q, want paid", final.Status)
	}
	if final.AcceptedAt == nil || !final.AcceptedAt.Equal(firstAccepted) {
		t.Fatalf("accepted_at moved: %v vs %v", final.AcceptedAt, firstAccepted)
	}

	// Paid is terminal.
	if _, err := st.ApplyReservationAction(ctx, store.ReservationActionInput{
		ReservationID: reservation.ReservationID,
		Action:        "cancel",
		OccurredAt:    time.Now().UTC(),
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for cancel after pay, got %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.GetSettings(ctx); !errors.Is(err, store.ErrSettingsMissing) {
		t.Fatalf("expected ErrSettingsMissing, got %v", err)
	}

	now := time.Now().UTC()
	settings, err := st.SetReservationOpen(ctx, true, now)
	if err != nil {
		t.Fatalf("set open: %v", err)
	}
	if !settings.IsReservationOpen || settings.AutoToggleEnabled {
		t.Fatalf("unexpected settings %+v", settings)
	}

	if _, err := st.SetAutoToggleEnabled(ctx, true, now); err != nil {
		t.Fatalf("enable auto toggle: %v", err)
	}

	switched, err := st.ApplyAutoToggle(ctx, false, now)
	if err != nil {
		t.Fatalf("apply toggle: %v", err)
	}
	if !switched {
		t.Fatal("expected toggle to close reservations")
	}
	settings, err = st.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.IsReservationOpen || settings.LastAutoToggle == nil {
		t.Fatalf("unexpected settings after toggle %+v", settings)
	}

	// Same verdict again is a no-op.
	switched, err = st.ApplyAutoToggle(ctx, false, now)
	if err != nil {
		t.Fatalf("apply toggle repeat: %v", err)
	}
	if switched {
		t.Fatal("repeat toggle must not report a switch")
	}
}

func TestCloseForCapacityStampsLastAutoToggle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := st.SetReservationOpen(ctx, true, now); err != nil {
		t.Fatalf("set open: %v", err)
	}
	if _, err := st.SetAutoToggleEnabled(ctx, true, now); err != nil {
		t.Fatalf("enable auto toggle: %v", err)
	}

	closeAt := now.Add(time.Minute)
	closed, err := st.CloseForCapacity(ctx, closeAt)
	if err != nil {
		t.Fatalf("close for capacity: %v", err)
	}
	if !closed {
		t.Fatal("expected capacity close to flip the flag")
	}

	settings, err := st.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.IsReservationOpen {
		t.Fatal("reservations should be closed")
	}
	if settings.LastAutoToggle == nil || !settings.LastAutoToggle.Equal(closeAt) {
		t.Fatalf("last_auto_toggle=%v, want %v", settings.LastAutoToggle, closeAt)
	}

	// Already closed, nothing to flip.
	closed, err = st.CloseForCapacity(ctx, closeAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("close repeat: %v", err)
	}
	if closed {
		t.Fatal("repeat close must not report a flip")
	}
}

func TestAuditLogLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	first, err := st.AppendLog(ctx, models.LogEntry{Action: "auto: reservations opened", Details: "schedule update", User: "system"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := st.AppendLog(ctx, models.LogEntry{Action: "reservations closed", Details: "manual update", User: "manual"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := st.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := st.DeleteLog(ctx, first.LogID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteLog(ctx, first.LogID); !errors.Is(err, store.ErrLogNotFound) {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}

	deleted, err := st.DeleteLogs(ctx, []string{second.LogID, uuid.NewString()})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted=%d, want 1", deleted)
	}
}

func dailyCount(t *testing.T, ctx context.Context, pool *pgxpool.Pool) int64 {
	t.Helper()
	var count int64
	row := pool.QueryRow(ctx, `SELECT count FROM daily_counters WHERE visit_date = $1`, testVisitDate)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("read daily counter: %v", err)
	}
	return count
}

func newCreateInput() store.CreateReservationInput {
	return store.CreateReservationInput{
		RequestID: uuid.NewString(),
		VisitDate: testVisitDate,
		VisitType: models.VisitTypeFirst,
		CreatedAt: time.Now().UTC(),
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewStore(pool, time.UTC)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return store, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
