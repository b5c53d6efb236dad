// Package notify broadcasts the outcome of a purchase to the buyer's page.
package notify

import (
	"context"
	"fmt"

	"invite-checkout/models"

	pubnub "github.com/pubnub/go/v7"
	"github.com/sirupsen/logrus"
)

// StatusEvent announces a terminal payment status.
type StatusEvent struct {
	PurchaseID string
	PaymentID  string
	Status     models.PaymentStatus
}

type Publisher interface {
	PublishStatus(ctx context.Context, ev StatusEvent) error
}

// Channel is the PubNub channel of a purchase.
func Channel(purchaseID string) string {
	return fmt.Sprintf("purchase-%s", purchaseID)
}

func message(ev StatusEvent) map[string]any {
	return map[string]any{
		"type":        "payment_status",
		"purchase_id": ev.PurchaseID,
		"payment_id":  ev.PaymentID,
		"status":      string(ev.Status),
	}
}

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

type PubNubPublisher struct {
	pn  *pubnub.PubNub
	log logrus.FieldLogger
}

func NewPubNubPublisher(cfg PubNubConfig, log logrus.FieldLogger) *PubNubPublisher {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	return &PubNubPublisher{pn: pubnub.NewPubNub(pnCfg), log: log}
}

func (p *PubNubPublisher) PublishStatus(_ context.Context, ev StatusEvent) error {
	channel := Channel(ev.PurchaseID)
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message(ev)).
		Execute()
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	p.log.WithFields(logrus.Fields{
		"channel": channel,
		"status":  ev.Status,
	}).Debug("payment status published")
	return nil
}

// Nop drops every event. Used when PubNub is not configured.
type Nop struct{}

func (Nop) PublishStatus(context.Context, StatusEvent) error { return nil }

// New returns a PubNub publisher when keys are configured, Nop otherwise.
func New(cfg PubNubConfig, log logrus.FieldLogger) Publisher {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		log.Info("pubnub keys not set, status broadcasts disabled")
		return Nop{}
	}
	if cfg.UserID == "" {
		cfg.UserID = "invite-checkout"
	}
	return NewPubNubPublisher(cfg, log)
}
