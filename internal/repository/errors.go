package repository

import "errors"

// Sentinel errors shared by repositories. Services match these with
// errors.Is and map them onto the API error taxonomy.
var (
	ErrNotFound      = errors.New("record not found")
	ErrQuotaExceeded = errors.New("attempt quota exceeded")
)
