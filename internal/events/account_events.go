package events

import "time"

const (
	ActionRegistered        = "account.registered"
	ActionActivated         = "account.activated"
	ActionActivationResent  = "account.activation_resent"
	ActionResetRequested    = "account.reset_requested"
	ActionResetCompleted    = "account.reset_completed"
	ActionPasswordChanged   = "account.password_changed"
	ActionEmailChanged      = "account.email_changed"
	ActionProfileUpdated    = "account.profile_updated"
	ActionStatusChanged     = "account.status_changed"
	ActionDeleted           = "account.deleted"
	ActionImageAttached     = "account.image_attached"
	ActionNotificationError = "account.notification_failed"
)

type AccountRegistered struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	At        time.Time `json:"at"`
}

type StatusChanged struct {
	AccountID string    `json:"accountId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

type EmailChanged struct {
	AccountID string    `json:"accountId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}
