package dto

import "time"

type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int64     `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SessionResponse is returned by every call that logs the caller in.
type SessionResponse struct {
	Account AccountView   `json:"account"`
	Token   TokenResponse `json:"token"`
}
