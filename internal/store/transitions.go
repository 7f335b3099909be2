package store

import "clinicq/reservation-service/internal/models"

var transitionMap = map[string][]string{
	"check-in": {models.StatusUnregistered},
	"call":     {models.StatusCheckedIn},
	"start":    {models.StatusCalled},
	"finish":   {models.StatusInConsultation},
	"pay":      {models.StatusFinished},
	"cancel": {
		models.StatusUnregistered,
		models.StatusCheckedIn,
		models.StatusCalled,
		models.StatusInConsultation,
		models.StatusFinished,
	},
}

var actionTarget = map[string]string{
	"check-in": models.StatusCheckedIn,
	"call":     models.StatusCalled,
	"start":    models.StatusInConsultation,
	"finish":   models.StatusFinished,
	"pay":      models.StatusPaid,
	"cancel":   models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action moves a reservation to.
func TargetStatus(action string) (string, bool) {
	status, ok := actionTarget[action]
	return status, ok
}
