package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/reservation-service/internal/models"
	"clinicq/reservation-service/internal/store"

	"github.com/google/uuid"
)

// CapacityGate is the admission pre-check run before an ordinary
// reservation is created.
type CapacityGate interface {
	CanAccept(ctx context.Context, visitDate string) (bool, string, error)
}

// ToggleRunner executes one schedule evaluation on demand.
type ToggleRunner interface {
	Run(ctx context.Context) (string, error)
}

type Handler struct {
	store   store.Store
	gate    CapacityGate
	trigger ToggleRunner
}

func NewHandler(store store.Store, gate CapacityGate, trigger ToggleRunner) *Handler {
	return &Handler{store: store, gate: gate, trigger: trigger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/reservations", h.handleReservations)
	mux.HandleFunc("/api/reservations/vip", h.handleCreateVIP)
	mux.HandleFunc("/api/reservations/", h.handleReservationByID)
	mux.HandleFunc("/api/settings", h.handleGetSettings)
	mux.HandleFunc("/api/settings/hours", h.handleUpdateHours)
	mux.HandleFunc("/api/settings/limits", h.handleUpdateLimits)
	mux.HandleFunc("/api/settings/reservation-open", h.handleManualToggle)
	mux.HandleFunc("/api/settings/auto-toggle", h.handleAutoToggle)
	mux.HandleFunc("/api/settings/auto-toggle/run", h.handleRunTrigger)
	mux.HandleFunc("/api/logs", h.handleLogs)
	mux.HandleFunc("/api/logs/", h.handleLogByID)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createReservationRequest struct {
	RequestID  string `json:"request_id"`
	VisitDate  string `json:"visit_date"`
	VisitType  string `json:"visit_type"`
	Name       string `json:"name"`
	Birthdate  string `json:"birthdate"`
	Phone      string `json:"phone"`
	CardNumber string `json:"card_number"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateReservation(w, r)
	case http.MethodGet:
		h.handleListReservations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCreateRequest(w, r)
	if !ok {
		return
	}

	accepted, reason, err := h.gate.CanAccept(r.Context(), req.VisitDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	if !accepted {
		// A replay of an already-created request still returns its
		// reservation even after the clinic closed in between.
		existing, found, err := h.store.FindReservationByRequestID(r.Context(), req.RequestID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, req.RequestID, status, code, msg)
			return
		}
		if found {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		writeError(w, req.RequestID, http.StatusConflict, "reservations_unavailable", reason)
		return
	}

	reservation, _, err := h.store.CreateReservation(r.Context(), store.CreateReservationInput{
		RequestID:  req.RequestID,
		VisitDate:  req.VisitDate,
		VisitType:  req.VisitType,
		Name:       req.Name,
		Birthdate:  req.Birthdate,
		Phone:      req.Phone,
		CardNumber: req.CardNumber,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleCreateVIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, ok := decodeCreateRequest(w, r)
	if !ok {
		return
	}

	reservation, _, err := h.store.CreateVIPReservation(r.Context(), store.CreateReservationInput{
		RequestID:  req.RequestID,
		VisitDate:  req.VisitDate,
		VisitType:  req.VisitType,
		Name:       req.Name,
		Birthdate:  req.Birthdate,
		Phone:      req.Phone,
		CardNumber: req.CardNumber,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func decodeCreateRequest(w http.ResponseWriter, r *http.Request) (createReservationRequest, bool) {
	var req createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return createReservationRequest{}, false
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.VisitDate = strings.TrimSpace(req.VisitDate)
	req.VisitType = strings.TrimSpace(req.VisitType)
	req.Name = strings.TrimSpace(req.Name)
	req.Birthdate = strings.TrimSpace(req.Birthdate)
	req.Phone = strings.TrimSpace(req.Phone)
	req.CardNumber = strings.TrimSpace(req.CardNumber)

	if req.RequestID == "" || req.VisitDate == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and visit_date are required")
		return createReservationRequest{}, false
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return createReservationRequest{}, false
	}
	if !isValidDate(req.VisitDate) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "visit_date must be YYYY-MM-DD")
		return createReservationRequest{}, false
	}
	if req.VisitType != "" && req.VisitType != "first_visit" && req.VisitType != "follow_up" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "visit_type must be first_visit or follow_up")
		return createReservationRequest{}, false
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return createReservationRequest{}, false
	}
	return req, true
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	visitDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if visitDate == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date is required")
		return
	}
	if !isValidDate(visitDate) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	reservations, err := h.store.ListReservations(r.Context(), visitDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (h *Handler) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		reservationID := parts[0]
		if !isValidUUID(reservationID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "reservation_id must be a UUID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGetReservation(w, r, reservationID)
		case http.MethodDelete:
			h.applyAction(w, r, reservationID, "cancel")
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reservationID := parts[0]
		if !isValidUUID(reservationID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "reservation_id must be a UUID")
			return
		}
		switch parts[2] {
		case "check-in", "call", "start", "finish", "pay", "cancel":
			h.applyAction(w, r, reservationID, parts[2])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request, reservationID string) {
	reservation, err := h.store.GetReservation(r.Context(), reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) applyAction(w http.ResponseWriter, r *http.Request, reservationID, action string) {
	reservation, err := h.store.ApplyReservationAction(r.Context(), store.ReservationActionInput{
		ReservationID: reservationID,
		Action:        action,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdateHours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Hours json.RawMessage `json:"hours"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if len(req.Hours) == 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "hours is required")
		return
	}

	settings, err := h.store.UpdateReservationHours(r.Context(), req.Hours, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Morning   int `json:"morning"`
		Afternoon int `json:"afternoon"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Morning < 0 || req.Afternoon < 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "limits must not be negative")
		return
	}

	settings, err := h.store.UpdateReservationLimits(r.Context(), req.Morning, req.Afternoon, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleManualToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Open bool `json:"open"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	now := time.Now().UTC()
	settings, err := h.store.SetReservationOpen(r.Context(), req.Open, now)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	action := "reservations closed"
	if req.Open {
		action = "reservations opened"
	}
	h.appendLog(r.Context(), action, "manual update", "manual", now)

	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleAutoToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	now := time.Now().UTC()
	settings, err := h.store.SetAutoToggleEnabled(r.Context(), req.Enabled, now)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	action := "auto-toggle disabled"
	if req.Enabled {
		action = "auto-toggle enabled"
	}
	h.appendLog(r.Context(), action, "manual update", "manual", now)

	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleRunTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	outcome, err := h.trigger.Run(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(outcome))
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 200
		if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
			parsed, err := strconv.Atoi(limitRaw)
			if err != nil || parsed <= 0 {
				writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		entries, err := h.store.ListLogs(r.Context(), limit)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		var req struct {
			LogIDs []string `json:"log_ids"`
		}
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if len(req.LogIDs) == 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "log_ids is required")
			return
		}
		for _, id := range req.LogIDs {
			if !isValidUUID(id) {
				writeError(w, "", http.StatusBadRequest, "invalid_request", "log_ids must be UUIDs")
				return
			}
		}
		deleted, err := h.store.DeleteLogs(r.Context(), req.LogIDs)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleLogByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/logs/"), "/")
	if !isValidUUID(logID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "log_id must be a UUID")
		return
	}
	if err := h.store.DeleteLog(r.Context(), logID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) appendLog(ctx context.Context, action, details, user string, now time.Time) {
	// The settings change already committed; a failed append loses the
	// log line but never rolls back the flip.
	if _, err := h.store.AppendLog(ctx, models.LogEntry{
		Action:    action,
		Details:   details,
		User:      user,
		Timestamp: now,
	}); err != nil {
		log.Printf("append audit log error: %v", err)
	}
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidDate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "reservation state does not allow this action"
	case errors.Is(err, store.ErrNumberConflict):
		return http.StatusConflict, "number_conflict", "reception number was taken, retry the request"
	case errors.Is(err, store.ErrSettingsMissing):
		return http.StatusNotFound, "settings_missing", "clinic settings are not configured"
	case errors.Is(err, store.ErrLogNotFound):
		return http.StatusNotFound, "log_not_found", "log entry not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
