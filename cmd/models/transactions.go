package models

import (
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Transaction records one payment attempt for an appointment. NetAmount
// is computed once at creation (amount minus platform fee) and never
// recomputed.
type Transaction struct {
	gorm.Model
	AppointmentID     uint              `gorm:"column:appointment_id;not null;index" json:"appointment_id"`
	PatientID         uint              `gorm:"column:patient_id;not null" json:"patient_id"`
	ProfessionalID    uint              `gorm:"column:professional_id;not null" json:"professional_id"`
	Amount            float64           `gorm:"column:amount;not null" json:"amount"`
	PlatformFee       float64           `gorm:"column:platform_fee;not null" json:"platform_fee"`
	NetAmount         float64           `gorm:"column:net_amount;not null" json:"net_amount"`
	PaystackReference string            `gorm:"column:paystack_reference;size:255;uniqueIndex" json:"paystack_reference"`
	Status            TransactionStatus `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`

	Appointment *Appointment `gorm:"foreignKey:AppointmentID" json:"appointment,omitempty"`
}
