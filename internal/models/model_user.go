package models

import "time"

// User is the local account a subscription reference points at.
type User struct {
	ID                string  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email             string  `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	Name              string  `gorm:"column:name;type:varchar(255)" json:"name"`
	PasswordHash      string  `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	EmailVerified     bool    `gorm:"column:email_verified;not null;default:false" json:"email_verified"`
	VerificationToken *string `gorm:"column:verification_token;type:varchar(128);uniqueIndex" json:"-"`
	// Provisioned marks accounts created by a guest checkout rather than by sign-up.
	Provisioned bool      `gorm:"column:provisioned;not null;default:false" json:"provisioned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
