package dto

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// AccountView is the public shape of an account. Image carries the
// thumbnail inline as a data URI when one is attached.
type AccountView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	Status      string    `json:"status"`
	IsConfirmed bool      `json:"isConfirmed"`
	Image       *string   `json:"image"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName"`
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 100)),
	)
}

type ChangeEmailRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r ChangeEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type ChangePasswordRequest struct {
	OldPassword    string `json:"oldPassword"`
	NewPassword    string `json:"newPassword"`
	RepeatPassword string `json:"repeatPassword"`
}

var errPasswordsDiffer = errors.New("passwords do not match")

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(MinPasswordLen, MaxPasswordLen)),
		validation.Field(&r.RepeatPassword, validation.Required, validation.By(func(v interface{}) error {
			if s, _ := v.(string); s != r.NewPassword {
				return errPasswordsDiffer
			}
			return nil
		})),
	)
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

func (r SetStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.In("active", "suspended", "deleted")),
	)
}
