package domain

import (
	"strings"
	"time"
)

type Account struct {
	ID                  AccountID  `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Email               string     `gorm:"type:text;not null" db:"email" json:"email"`
	EmailKey            *string    `gorm:"type:text;uniqueIndex:ux_accounts_email_key" db:"email_key" json:"-"`
	PasswordHash        string     `gorm:"type:text;not null" db:"password_hash" json:"-"`
	Status              Status     `gorm:"type:text;not null;index" db:"status" json:"status"`
	FirstName           string     `gorm:"type:text;not null;default:''" db:"first_name" json:"firstName"`
	ActivationCodeHash  *string    `gorm:"type:text;index" db:"activation_code_hash" json:"-"`
	ActivationExpiresAt *time.Time `db:"activation_expires_at" json:"-"`
	ResetCodeHash       *string    `gorm:"type:text;index" db:"reset_code_hash" json:"-"`
	ResetExpiresAt      *time.Time `db:"reset_expires_at" json:"-"`
	ProfileImageID      *ImageID   `gorm:"type:uuid" db:"profile_image_id" json:"profileImageId,omitempty"`
	TokenVersion        int        `gorm:"not null;default:1" db:"token_version" json:"-"`
	CreatedAt           time.Time  `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"not null" db:"updated_at" json:"updatedAt"`
	DeletedAt           *time.Time `db:"deleted_at" json:"-"`
}

func (Account) TableName() string { return "accounts" }

// Marker is the snapshot embedded into bearer tokens.
func (a *Account) Marker() StatusMarker {
	return StatusMarker{Status: a.Status, Version: a.TokenVersion}
}

// IsConfirmed reports whether the account has left the pending state.
func (a *Account) IsConfirmed() bool {
	return a.Status != StatusPending && a.ActivationCodeHash == nil
}

// NormalizeEmail returns the key used for case-insensitive uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StatusMarker lets a token minted before a suspension or credential change be
// rejected once the store is consulted.
type StatusMarker struct {
	Status  Status
	Version int
}
