package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RolePatient      = "patient"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

type User struct {
	gorm.Model
	FullName              string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email                 string    `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash          string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role                  string    `gorm:"column:role;size:50;not null" json:"role"`
	Phone                 string    `gorm:"column:phone;size:20" json:"phone"`
	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Professional *Professional `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"professional,omitempty"`
}

type Professional struct {
	gorm.Model
	UserID            uint    `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Specialty         string  `gorm:"column:specialty;size:255" json:"specialty"`
	Bio               string  `gorm:"column:bio;type:text" json:"bio"`
	YearsOfExperience int     `gorm:"column:years_of_experience;default:0" json:"years_of_experience"`
	ConsultationFee   float64 `gorm:"column:consultation_fee;not null;default:0" json:"consultation_fee"`
	Timezone          string  `gorm:"column:timezone;size:64;not null;default:'Africa/Lagos'" json:"timezone"`
	Verified          bool    `gorm:"column:verified;default:false" json:"verified"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (Professional) TableName() string {
	return "professionals"
}
