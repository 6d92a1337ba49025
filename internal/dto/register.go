package dto

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLen, MaxPasswordLen)),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
	)
}

type RegisterResponse struct {
	AccountID                 string `json:"accountId"`
	RequiresEmailVerification bool   `json:"requiresEmailVerification"`
}
