package models

import "time"

type Reservation struct {
	ReservationID   string     `json:"reservation_id"`
	ReceptionNumber int64      `json:"reception_number"`
	Lane            string     `json:"lane"`
	VisitDate       string     `json:"visit_date"`
	VisitType       string     `json:"visit_type,omitempty"`
	Status          string     `json:"status"`
	Name            string     `json:"name,omitempty"`
	Birthdate       string     `json:"birthdate,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	CardNumber      string     `json:"card_number,omitempty"`
	RequestID       string     `json:"request_id"`
	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
}

const (
	LaneOrdinary = "ordinary"
	LaneVIP      = "vip"
)

const (
	VisitTypeFirst    = "first_visit"
	VisitTypeFollowUp = "follow_up"
)

const (
	StatusUnregistered   = "unregistered"
	StatusCheckedIn      = "checked-in"
	StatusCalled         = "called"
	StatusInConsultation = "in-consultation"
	StatusFinished       = "finished"
	StatusPaid           = "paid"
	StatusCancelled      = "cancelled"
)
