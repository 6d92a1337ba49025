package dto

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type ResetRequest struct {
	Email string `json:"email"`
}

func (r ResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type CompleteResetRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (r CompleteResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, validation.Length(1, 512)),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLen, MaxPasswordLen)),
	)
}
