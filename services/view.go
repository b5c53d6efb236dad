package services

import (
	"time"

	"invite-checkout/internal/widget"
	"invite-checkout/models"

	"github.com/shopspring/decimal"
)

// View is the snapshot of a session the page renders.
type View struct {
	ID              string                `json:"id"`
	Step            Step                  `json:"step"`
	Tier            models.InvitationTier `json:"tier,omitempty"`
	AddOns          []models.AddOn        `json:"add_ons"`
	TableID         models.TableID        `json:"table_id,omitempty"`
	RequiresTable   bool                  `json:"requires_table"`
	Quote           *Quote                `json:"quote,omitempty"`
	Amount          decimal.Decimal       `json:"amount"`
	AmountConfirmed bool                  `json:"amount_confirmed"`
	Contact         models.ContactInfo    `json:"contact"`
	PurchaseID      string                `json:"purchase_id,omitempty"`
	PaymentID       string                `json:"payment_id,omitempty"`
	PaymentStatus   models.PaymentStatus  `json:"payment_status"`
	Pix             *models.PixCharge     `json:"pix,omitempty"`
	Loading         bool                  `json:"loading"`
	Polling         bool                  `json:"polling"`
	Error           *UserError            `json:"error,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// WidgetView is what the page needs to host the payment widget.
type WidgetView struct {
	ScriptURL    string              `json:"script_url"`
	PublicKey    string              `json:"public_key"`
	Locale       string              `json:"locale"`
	Started      bool                `json:"started"`
	Instructions widget.Instructions `json:"instructions"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:              s.id,
		Step:            s.step,
		Tier:            s.sel.Tier,
		AddOns:          s.sel.AddOns.Slice(),
		TableID:         s.sel.TableID,
		RequiresTable:   s.sel.RequiresTable(),
		Amount:          s.amount,
		AmountConfirmed: s.confirmed,
		Contact:         s.contact,
		PurchaseID:      s.purchaseID,
		PaymentID:       s.paymentID,
		PaymentStatus:   s.status,
		Pix:             s.pix,
		Loading:         s.loading,
		Polling:         s.stopPoll != nil,
		Error:           s.lastErr,
		UpdatedAt:       s.updatedAt,
	}
	if s.sel.Tier.Valid() {
		q := s.quote
		v.Quote = &q
	}
	if s.fatalErr != nil {
		v.Error = s.fatalErr
	}
	return v
}

func (s *Session) WidgetView() WidgetView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.widgetViewLocked()
}

func (s *Session) widgetViewLocked() WidgetView {
	cfg := s.adapter.Config()
	return WidgetView{
		ScriptURL:    cfg.ScriptURL,
		PublicKey:    cfg.PublicKey,
		Locale:       cfg.Locale,
		Started:      s.widgetOn,
		Instructions: s.host.Instructions(),
	}
}
