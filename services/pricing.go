package services

import (
	"fmt"

	"invite-checkout/config"
	"invite-checkout/models"

	"github.com/shopspring/decimal"
)

// PriceList holds the fixed prices of the event.
type PriceList struct {
	Tiers  map[models.InvitationTier]decimal.Decimal
	AddOns map[models.AddOn]decimal.Decimal
}

func DefaultPriceList() PriceList {
	return PriceList{
		Tiers: map[models.InvitationTier]decimal.Decimal{
			models.TierSingle: decimal.NewFromInt(25),
			models.TierCouple: decimal.NewFromInt(40),
			models.TierBox:    decimal.NewFromInt(200),
		},
		AddOns: map[models.AddOn]decimal.Decimal{
			models.AddOnTable:   decimal.NewFromInt(20),
			models.AddOnParking: decimal.NewFromInt(20),
		},
	}
}

func PriceListFromConfig(cfg *config.Config) PriceList {
	return PriceList{
		Tiers: map[models.InvitationTier]decimal.Decimal{
			models.TierSingle: cfg.PriceSingle,
			models.TierCouple: cfg.PriceCouple,
			models.TierBox:    cfg.PriceBox,
		},
		AddOns: map[models.AddOn]decimal.Decimal{
			models.AddOnTable:   cfg.PriceTable,
			models.AddOnParking: cfg.PriceParking,
		},
	}
}

// LineItem is one add-on row of a quote. Included marks an add-on bundled
// into the tier at no charge.
type LineItem struct {
	AddOn    models.AddOn    `json:"add_on"`
	Label    string          `json:"label"`
	Price    decimal.Decimal `json:"price"`
	Included bool            `json:"included"`
}

// Quote is the price breakdown of a selection.
type Quote struct {
	Tier      models.InvitationTier `json:"tier"`
	TierLabel string                `json:"tier_label"`
	Base      decimal.Decimal       `json:"base"`
	AddOns    []LineItem            `json:"add_ons"`
	Total     decimal.Decimal       `json:"total"`
}

type PricingEngine struct {
	prices PriceList
}

func NewPricingEngine(prices PriceList) *PricingEngine {
	return &PricingEngine{prices: prices}
}

// ComputeTotal prices a selection. It is pure: the same selection always
// yields the same quote. A Box selection always reports the table as an
// included line at zero.
func (e *PricingEngine) ComputeTotal(sel models.Selection) (Quote, error) {
	base, ok := e.prices.Tiers[sel.Tier]
	if !ok {
		return Quote{}, fmt.Errorf("compute total: %w: %q", models.ErrUnknownTier, sel.Tier)
	}

	q := Quote{
		Tier:      sel.Tier,
		TierLabel: sel.Tier.Label(),
		Base:      base,
		AddOns:    []LineItem{},
		Total:     base,
	}

	switch {
	case sel.Tier == models.TierBox:
		q.AddOns = append(q.AddOns, LineItem{
			AddOn:    models.AddOnTable,
			Label:    models.AddOnTable.Label(),
			Price:    decimal.Zero,
			Included: true,
		})
	case sel.AddOns.Has(models.AddOnTable):
		q.AddOns = append(q.AddOns, e.line(models.AddOnTable))
	}

	if sel.AddOns.Has(models.AddOnParking) {
		q.AddOns = append(q.AddOns, e.line(models.AddOnParking))
	}

	for _, item := range q.AddOns {
		q.Total = q.Total.Add(item.Price)
	}

	return q, nil
}

func (e *PricingEngine) line(a models.AddOn) LineItem {
	return LineItem{AddOn: a, Label: a.Label(), Price: e.prices.AddOns[a]}
}
