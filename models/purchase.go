package models

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const maxNameLength = 50

// ContactInfo is the buyer's contact form.
type ContactInfo struct {
	Name    string `json:"nome"`
	Surname string `json:"sobrenome"`
	Phone   string `json:"telefone"`
}

// Normalize keeps letters only in names (first letter upper-cased, at most 50
// runes) and formats the phone as "DD NNNNN-NNNN".
func (c ContactInfo) Normalize() ContactInfo {
	return ContactInfo{
		Name:    normalizeName(c.Name),
		Surname: normalizeName(c.Surname),
		Phone:   FormatPhone(c.Phone),
	}
}

// Validate reports every missing or malformed field.
func (c ContactInfo) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if c.Surname == "" {
		errs = append(errs, ErrSurnameRequired)
	}
	if n := len(PhoneDigits(c.Phone)); n != 11 {
		errs = append(errs, ErrPhoneInvalid)
	}
	return errors.Join(errs...)
}

func normalizeName(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if n == 0 {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		if n++; n == maxNameLength {
			break
		}
	}
	return b.String()
}

// PhoneDigits strips everything but digits.
func PhoneDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// FormatPhone renders up to eleven digits progressively: "11", "11 9123",
// "11 3123-4567" (landline), "11 91234-5678" (mobile).
func FormatPhone(s string) string {
	d := PhoneDigits(s)
	if len(d) > 11 {
		d = d[:11]
	}
	switch {
	case len(d) <= 2:
		return d
	case len(d) <= 6:
		return d[:2] + " " + d[2:]
	case len(d) == 10:
		return d[:2] + " " + d[2:6] + "-" + d[6:]
	}
	return d[:2] + " " + d[2:7] + "-" + d[7:]
}

// PurchaseRequest is the body of the purchase-initiation call.
type PurchaseRequest struct {
	ContactInfo
	Tier         InvitationTier  `json:"conviteType"`
	Table        bool            `json:"mesa"`
	Parking      bool            `json:"estacionamento"`
	TableID      TableID         `json:"mesa_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	ReferralCode string          `json:"vendedor_code,omitempty"`
}

// PurchaseResponse carries the server-assigned id and the authoritative amount.
type PurchaseResponse struct {
	PurchaseID string          `json:"purchase_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type TableReservationRequest struct {
	TableID    TableID `json:"tableId"`
	PurchaseID string  `json:"purchaseId"`
}
