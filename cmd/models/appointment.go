package models

import (
	"time"

	"gorm.io/gorm"
)

type AppointmentStatus string

const (
	AppointmentPending         AppointmentStatus = "pending"
	AppointmentAwaitingPayment AppointmentStatus = "awaiting_payment"
	AppointmentConfirmed       AppointmentStatus = "confirmed"
	AppointmentCompleted       AppointmentStatus = "completed"
	AppointmentCancelled       AppointmentStatus = "cancelled"
	AppointmentDeclined        AppointmentStatus = "declined"
)

// appointmentTransitions is the closed transition table. Completed,
// cancelled and declined are terminal.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentPending:         {AppointmentAwaitingPayment, AppointmentDeclined},
	AppointmentAwaitingPayment: {AppointmentConfirmed, AppointmentCancelled},
	AppointmentConfirmed:       {AppointmentCompleted},
}

func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return len(appointmentTransitions[s]) == 0
}

// Active reports whether the appointment still occupies its slot.
// Awaiting-payment rows count as occupied so a slot cannot be
// double-booked while payment is outstanding.
func (s AppointmentStatus) Active() bool {
	switch s {
	case AppointmentPending, AppointmentAwaitingPayment, AppointmentConfirmed:
		return true
	}
	return false
}

// ActiveAppointmentStatuses is the slot-occupancy set used in queries.
var ActiveAppointmentStatuses = []AppointmentStatus{
	AppointmentPending,
	AppointmentAwaitingPayment,
	AppointmentConfirmed,
}

type Appointment struct {
	gorm.Model
	PatientID         uint              `gorm:"column:patient_id;not null;index" json:"patient_id"`
	ProfessionalID    uint              `gorm:"column:professional_id;not null;index" json:"professional_id"`
	ScheduledAt       time.Time         `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	DurationMins      int               `gorm:"column:duration_mins;not null;default:30" json:"duration_mins"`
	Status            AppointmentStatus `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`
	PaymentExpiresAt  *time.Time        `gorm:"column:payment_expires_at" json:"payment_expires_at,omitempty"`
	CompletedAt       *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	MeetLink          string            `gorm:"column:meet_link;size:500" json:"meet_link,omitempty"`
	ConsultationNotes string            `gorm:"column:consultation_notes;type:text" json:"consultation_notes,omitempty"`

	Patient      *User `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Professional *User `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMins) * time.Minute)
}
