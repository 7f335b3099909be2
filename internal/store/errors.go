package store

import "errors"

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidState        = errors.New("invalid reservation state")
	ErrNumberConflict      = errors.New("reception number conflict")
	ErrSettingsMissing     = errors.New("clinic settings missing")
	ErrLogNotFound         = errors.New("log entry not found")
)
