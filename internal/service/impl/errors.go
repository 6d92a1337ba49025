package impl

import "errors"

var (
	ErrMalformedHash = errors.New("malformed password hash")
	ErrNilStore      = errors.New("nil store")
)
