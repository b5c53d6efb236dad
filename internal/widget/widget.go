// Package widget wraps the lifecycle of the external payment widget: loading
// its script once, mounting bricks into containers that may not exist yet and
// translating the widget's callbacks into typed signals.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invite-checkout/models"

	"github.com/shopspring/decimal"
)

const DefaultScriptURL = "https://sdk.mercadopago.com/js/v2"

var (
	ErrNotLoaded        = errors.New("widget: script not loaded")
	ErrContainerMissing = errors.New("widget: container not rendered")
	ErrClosed           = errors.New("widget: adapter closed")
	ErrRemote           = errors.New("widget: error reported by widget")
	ErrUnknownEvent     = errors.New("widget: unknown event")
)

// Error is a widget failure. Fatal errors block the payment step until the
// page is reloaded; the rest leave the step open for another attempt.
type Error struct {
	Op     string
	Fatal  bool
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("widget %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a fatal widget error.
func IsFatal(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Fatal
}

type BrickKind string

const (
	BrickPayment      BrickKind = "payment"
	BrickStatusScreen BrickKind = "statusScreen"
)

// Config is the static widget setup read from the environment.
type Config struct {
	ScriptURL       string
	PublicKey       string
	Locale          string
	MaxInstallments int
	InitAttempts    int
	InitDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScriptURL == "" {
		c.ScriptURL = DefaultScriptURL
	}
	if c.Locale == "" {
		c.Locale = "pt-BR"
	}
	if c.MaxInstallments == 0 {
		c.MaxInstallments = 12
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = 5
	}
	if c.InitDelay <= 0 {
		c.InitDelay = time.Second
	}
	return c
}

// PaymentMethods enables the widget's payment families.
type PaymentMethods struct {
	CreditCard      string `json:"creditCard,omitempty"`
	DebitCard       string `json:"debitCard,omitempty"`
	BankTransfer    string `json:"bankTransfer,omitempty"`
	MaxInstallments int    `json:"maxInstallments,omitempty"`
}

// BrickConfig is what the page needs to create one brick.
type BrickConfig struct {
	Kind           BrickKind       `json:"kind"`
	ContainerID    string          `json:"container_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentID      string          `json:"payment_id,omitempty"`
	PaymentMethods *PaymentMethods `json:"payment_methods,omitempty"`
}

// PaymentBrick configures the card/PIX form for amount.
func (c Config) PaymentBrick(containerID string, amount decimal.Decimal) BrickConfig {
	c = c.withDefaults()
	return BrickConfig{
		Kind:        BrickPayment,
		ContainerID: containerID,
		Amount:      amount,
		PaymentMethods: &PaymentMethods{
			CreditCard:      "all",
			DebitCard:       "all",
			BankTransfer:    "all",
			MaxInstallments: c.MaxInstallments,
		},
	}
}

// StatusScreenBrick configures the status screen of a known payment.
func (c Config) StatusScreenBrick(containerID, paymentID string, amount decimal.Decimal) BrickConfig {
	return BrickConfig{
		Kind:        BrickStatusScreen,
		ContainerID: containerID,
		Amount:      amount,
		PaymentID:   paymentID,
	}
}

type EventType string

const (
	// raised by the page
	EventScriptLoaded     EventType = "script_loaded"
	EventContainerMounted EventType = "container_mounted"

	// raised by the widget
	EventReady     EventType = "ready"
	EventSubmit    EventType = "submit"
	EventError     EventType = "error"
	EventBinChange EventType = "bin_change"
	EventCardToken EventType = "card_token"
)

// Event is one notification relayed by the page.
type Event struct {
	Type        EventType             `json:"type"`
	Brick       BrickKind             `json:"brick,omitempty"`
	ContainerID string                `json:"container_id,omitempty"`
	Payload     *models.SubmitPayload `json:"payload,omitempty"`
	Error       json.RawMessage       `json:"error,omitempty"`
	BIN         string                `json:"bin,omitempty"`
	Token       string                `json:"token,omitempty"`
}

func (e Event) hostEvent() bool {
	return e.Type == EventScriptLoaded || e.Type == EventContainerMounted
}

type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalReady
	SignalSubmit
	SignalError
	SignalBinChange
	SignalCardToken
)

// Signal is a widget event translated for the checkout session.
type Signal struct {
	Kind    SignalKind
	Brick   BrickKind
	Payload models.SubmitPayload
	Err     error
	BIN     string
	Token   string
}
