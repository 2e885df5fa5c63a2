package appointment

import (
	"errors"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"gorm.io/gorm"
)

// PaymentWindow is how long a patient has to pay after the professional
// accepts. Enforced by data (payment_expires_at) plus the sweep, never
// by an in-memory timer.
const PaymentWindow = 15 * time.Minute

var (
	ErrNotFound  = errors.New("appointment not found")
	ErrForbidden = errors.New("appointment belongs to another user")
	ErrConflict  = errors.New("appointment is no longer in the expected status")
)

// transition applies one state-machine step with a compare-and-set
// predicate: the UPDATE only lands if the row is still in from-status,
// so a concurrent accept, webhook or sweep can never be overwritten.
func transition(db *gorm.DB, id uint, from models.AppointmentStatus, updates map[string]interface{}) error {
	result := db.Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func loadOwned(db *gorm.DB, id, professionalID uint) (*models.Appointment, error) {
	var appt models.Appointment
	if err := db.First(&appt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if appt.ProfessionalID != professionalID {
		return nil, ErrForbidden
	}
	return &appt, nil
}

// Accept moves a pending appointment to awaiting_payment and opens the
// payment window. Only the first of two concurrent accepts wins.
func Accept(db *gorm.DB, id, professionalID uint, now time.Time) (*models.Appointment, error) {
	appt, err := loadOwned(db, id, professionalID)
	if err != nil {
		return nil, err
	}

	expires := now.Add(PaymentWindow)
	if err := transition(db, appt.ID, models.AppointmentPending, map[string]interface{}{
		"status":             models.AppointmentAwaitingPayment,
		"payment_expires_at": expires,
	}); err != nil {
		return nil, err
	}

	appt.Status = models.AppointmentAwaitingPayment
	appt.PaymentExpiresAt = &expires
	return appt, nil
}

func Decline(db *gorm.DB, id, professionalID uint) (*models.Appointment, error) {
	appt, err := loadOwned(db, id, professionalID)
	if err != nil {
		return nil, err
	}

	if err := transition(db, appt.ID, models.AppointmentPending, map[string]interface{}{
		"status": models.AppointmentDeclined,
	}); err != nil {
		return nil, err
	}

	appt.Status = models.AppointmentDeclined
	return appt, nil
}

func Complete(db *gorm.DB, id, professionalID uint, now time.Time) (*models.Appointment, error) {
	appt, err := loadOwned(db, id, professionalID)
	if err != nil {
		return nil, err
	}

	if err := transition(db, appt.ID, models.AppointmentConfirmed, map[string]interface{}{
		"status":       models.AppointmentCompleted,
		"completed_at": now,
	}); err != nil {
		return nil, err
	}

	appt.Status = models.AppointmentCompleted
	appt.CompletedAt = &now
	return appt, nil
}
