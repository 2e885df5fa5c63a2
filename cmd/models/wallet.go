package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet holds a professional's accrued earnings. Credited only by
// successful transactions, debited only by payout requests; the balance
// never goes below zero.
type Wallet struct {
	gorm.Model
	ProfessionalID uint    `gorm:"column:professional_id;not null;uniqueIndex" json:"professional_id"`
	Balance        float64 `gorm:"column:balance;not null;default:0" json:"balance"`
}

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutPaid     PayoutStatus = "paid"
	PayoutRejected PayoutStatus = "rejected"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutPaid || s == PayoutRejected
}

// PayoutRequest reserves funds out of the wallet at request time; the
// amount flows back on rejection and is already deducted when an admin
// marks the request paid.
type PayoutRequest struct {
	gorm.Model
	ProfessionalID  uint         `gorm:"column:professional_id;not null;index" json:"professional_id"`
	Amount          float64      `gorm:"column:amount;not null" json:"amount"`
	Status          PayoutStatus `gorm:"column:status;size:32;not null;default:'pending'" json:"status"`
	RequestedAt     time.Time    `gorm:"column:requested_at;not null" json:"requested_at"`
	PaidAt          *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	RejectionReason string       `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	ProcessedBy     *uint        `gorm:"column:processed_by" json:"processed_by,omitempty"`
}

func (PayoutRequest) TableName() string {
	return "payout_requests"
}
