package domain

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// account lifecycle
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotActivated       = errors.New("account not activated")
	ErrSuspended          = errors.New("account suspended")
	ErrAlreadyActive      = errors.New("account already active")
	ErrInvalidTransition  = errors.New("invalid status transition")

	// single-use codes
	ErrCodeInvalid = errors.New("invalid code")
	ErrCodeExpired = errors.New("code expired")

	// bearer tokens
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenBadSignature = errors.New("token signature invalid")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenStale        = errors.New("token no longer valid for account")

	// images
	ErrTooLarge          = errors.New("image too large")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodeFailure     = errors.New("image decode failure")
	ErrNoImage           = errors.New("account has no image")

	// notifications
	ErrRenderFailure    = errors.New("template render failure")
	ErrTransportFailure = errors.New("mail transport failure")
)
