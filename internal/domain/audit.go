package domain

import (
	"time"

	"gorm.io/datatypes"
)

type AuditEntry struct {
	ID        AuditID        `gorm:"type:uuid;primaryKey" db:"id"`
	AccountID *AccountID     `gorm:"type:uuid;index" db:"account_id"`
	Action    string         `gorm:"type:text;not null" db:"action"`
	Metadata  datatypes.JSON `db:"metadata"`
	IP        string         `gorm:"type:text" db:"ip"`
	UserAgent string         `gorm:"type:text" db:"user_agent"`
	CreatedAt time.Time      `gorm:"not null" db:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_log" }
