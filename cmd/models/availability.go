package models

import (
	"gorm.io/gorm"
)

// AvailabilityRule is a recurring weekly window out of which bookable
// slots are generated. Start and end are wall-clock "HH:MM" strings in
// the professional's configured timezone.
type AvailabilityRule struct {
	gorm.Model
	ProfessionalID   uint   `gorm:"column:professional_id;not null;index" json:"professional_id"`
	DayOfWeek        int    `gorm:"column:day_of_week;not null" json:"day_of_week"` // 0 = Sunday
	StartTime        string `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime          string `gorm:"column:end_time;size:5;not null" json:"end_time"`
	SlotDurationMins int    `gorm:"column:slot_duration_mins;not null;default:30" json:"slot_duration_mins"`
	BufferMins       int    `gorm:"column:buffer_mins;not null;default:0" json:"buffer_mins"`
}

func (AvailabilityRule) TableName() string {
	return "availability_rules"
}

// TimeOffBlock suppresses slots on one calendar date. A block without a
// time range covers the whole day; with a range it suppresses only
// overlapping slots.
type TimeOffBlock struct {
	gorm.Model
	ProfessionalID uint    `gorm:"column:professional_id;not null;index" json:"professional_id"`
	BlockedDate    string  `gorm:"column:blocked_date;size:10;not null" json:"blocked_date"` // "YYYY-MM-DD"
	StartTime      *string `gorm:"column:start_time;size:5" json:"start_time,omitempty"`
	EndTime        *string `gorm:"column:end_time;size:5" json:"end_time,omitempty"`
	Reason         string  `gorm:"column:reason;type:text" json:"reason,omitempty"`
}

func (TimeOffBlock) TableName() string {
	return "time_off_blocks"
}

func (t *TimeOffBlock) FullDay() bool {
	return t.StartTime == nil || t.EndTime == nil
}
