package services

import (
	"errors"
	"fmt"
)

var (
	ErrTableNotSelectable = errors.New("checkout: table not selectable for tier")
	ErrTableRequired      = errors.New("checkout: a table must be chosen")
	ErrTierRequired       = errors.New("checkout: a tier must be chosen")
	ErrBusy               = errors.New("checkout: previous action still running")
	ErrInvalidTransition  = errors.New("checkout: action not allowed at this step")
	ErrPurchaseLocked     = errors.New("checkout: selection is locked once the purchase exists")
	ErrSessionClosed      = errors.New("checkout: session closed")
	ErrSessionNotFound    = errors.New("checkout: session not found")
	ErrPollingAbandoned   = errors.New("poller: too many consecutive failures")
	ErrPaymentStuck       = errors.New("poller: payment did not settle in time")
)

// ErrorKind is the class of a user-facing error.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInitiation        ErrorKind = "initiation"
	KindPayment           ErrorKind = "payment"
	KindPaymentValidation ErrorKind = "payment_validation"
	KindReservation       ErrorKind = "reservation"
	KindPolling           ErrorKind = "polling"
	KindFatal             ErrorKind = "fatal"
	KindBusy              ErrorKind = "busy"
	KindState             ErrorKind = "state"
)

var messages = map[ErrorKind]string{
	KindValidation:        "Preencha nome, sobrenome e um telefone válido.",
	KindInitiation:        "Não foi possível iniciar a compra. Tente novamente.",
	KindPayment:           "Ocorreu um erro ao processar o pagamento. Por favor, tente novamente.",
	KindPaymentValidation: "Os dados do pagamento são inválidos. Verifique as informações e tente novamente.",
	KindReservation:       "A mesa escolhida não está mais disponível. Escolha outra mesa.",
	KindPolling:           "Não conseguimos confirmar o pagamento. Consulte o status novamente em alguns minutos.",
	KindFatal:             "Não foi possível carregar o formulário de pagamento. Recarregue a página.",
	KindBusy:              "Aguarde, a solicitação anterior ainda está em andamento.",
	KindState:             "Esta ação não está disponível nesta etapa.",
}

// UserError is what the buyer sees. Message is in Portuguese; Details holds
// the raw cause for the collapsed diagnostics panel.
type UserError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
	Details string    `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *UserError) Unwrap() error { return e.Err }

// Fatal reports whether the error blocks the flow until a reload.
func (e *UserError) Fatal() bool { return e.Kind == KindFatal }

func newUserError(kind ErrorKind, err error) *UserError {
	ue := &UserError{Kind: kind, Message: messages[kind], Err: err}
	if err != nil {
		ue.Details = err.Error()
	}
	return ue
}

// withMessage replaces the default message of the kind.
func (e *UserError) withMessage(msg string) *UserError {
	e.Message = msg
	return e
}

// AsUserError extracts a *UserError from err.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
