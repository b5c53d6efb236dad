package models

import "errors"

var (
	ErrUnknownTier   = errors.New("tier: unknown invitation tier")
	ErrUnknownAddOn  = errors.New("add-on: unknown add-on")
	ErrInvalidTable  = errors.New("table: id outside 001-144")
	ErrInvalidStatus = errors.New("payment: unknown status")

	ErrNameRequired    = errors.New("contact: name is required")
	ErrSurnameRequired = errors.New("contact: surname is required")
	ErrPhoneInvalid    = errors.New("contact: phone must have 11 digits")
)
