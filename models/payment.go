package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a purchase's payment as reported by the API.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusInProcess PaymentStatus = "in_process"
	StatusApproved  PaymentStatus = "approved"
	StatusRejected  PaymentStatus = "rejected"
)

// ParsePaymentStatus maps the processor's vocabulary onto the four statuses the
// checkout tracks. Unknown values are an error; callers keep polling on them.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "":
		return StatusPending, nil
	case "in_process", "authorized", "in_mediation":
		return StatusInProcess, nil
	case "approved":
		return StatusApproved, nil
	case "rejected", "cancelled", "refunded", "charged_back":
		return StatusRejected, nil
	}
	return StatusPending, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether no further transition can happen.
func (s PaymentStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PaymentMethod selects which payment-creation endpoint a submit is sent to.
type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "credit_card"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodPix        PaymentMethod = "pix"
)

// FlexibleID decodes ids the processor sends either as JSON strings or numbers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type Payer struct {
	Email          string         `json:"email"`
	Identification Identification `json:"identification"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
}

// SubmitPayload is the typed form of what the payment widget hands over on submit.
type SubmitPayload struct {
	PaymentMethodID     string          `json:"payment_method_id"`
	PaymentTypeID       string          `json:"payment_type_id,omitempty"`
	Token               string          `json:"token,omitempty"`
	IssuerID            string          `json:"issuer_id,omitempty"`
	Installments        int             `json:"installments,omitempty"`
	TransactionAmount   decimal.Decimal `json:"transaction_amount"`
	StatementDescriptor string          `json:"statement_descriptor,omitempty"`
	Payer               Payer           `json:"payer"`
}

// Method resolves which payment family the payload belongs to. Card brands
// ("visa", "master") are disambiguated by the payment type; anything that is
// neither PIX nor debit is charged as credit.
func (p SubmitPayload) Method() PaymentMethod {
	switch {
	case p.PaymentMethodID == string(MethodPix) || p.PaymentTypeID == "bank_transfer":
		return MethodPix
	case p.PaymentMethodID == string(MethodDebitCard) || p.PaymentTypeID == string(MethodDebitCard):
		return MethodDebitCard
	}
	return MethodCreditCard
}

// CardPaymentRequest is the body of the credit and debit payment endpoints.
type CardPaymentRequest struct {
	PaymentMethodID     string          `json:"payment_method_id"`
	Token               string          `json:"token"`
	IssuerID            string          `json:"issuer_id,omitempty"`
	TransactionAmount   decimal.Decimal `json:"transaction_amount"`
	ExternalReference   string          `json:"external_reference"`
	Installments        int             `json:"installments"`
	StatementDescriptor string          `json:"statement_descriptor"`
	Payer               Payer           `json:"payer"`
	ReferralCode        string          `json:"vendedor_code,omitempty"`
}

type PixPaymentRequest struct {
	PaymentMethodID   string          `json:"payment_method_id"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	NotificationURL   string          `json:"notification_url"`
	Payer             Payer           `json:"payer"`
	ReferralCode      string          `json:"vendedor_code,omitempty"`
}

// PaymentResult is what a payment-creation call returns.
type PaymentResult struct {
	PaymentID    string        `json:"payment_id"`
	Status       PaymentStatus `json:"status"`
	StatusDetail string        `json:"status_detail,omitempty"`
	Pix          *PixCharge    `json:"pix,omitempty"`
}

// PixCharge holds what the buyer needs to pay a PIX charge.
type PixCharge struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

// StatusResult is one answer of the purchase-status endpoint.
type StatusResult struct {
	PurchaseID string        `json:"purchase_id"`
	PaymentID  string        `json:"payment_id,omitempty"`
	Status     PaymentStatus `json:"status"`
	// Amount is set only when the reply carries a transaction amount.
	Amount *decimal.Decimal `json:"transaction_amount,omitempty"`
}

// SaleRequest attributes an approved sale to a seller.
type SaleRequest struct {
	ReferralCode      string           `json:"vendedor"`
	PaymentID         string           `json:"id"`
	PurchaseID        string           `json:"external_reference"`
	Status            PaymentStatus    `json:"status"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount,omitempty"`
}
