package models

import (
	"fmt"
	"sort"
)

// InvitationTier is the class of invitation being bought.
type InvitationTier string

const (
	TierSingle InvitationTier = "unitario"
	TierCouple InvitationTier = "casal"
	TierBox    InvitationTier = "camarote"
)

// Tiers lists every tier in display order.
var Tiers = []InvitationTier{TierSingle, TierCouple, TierBox}

func ParseTier(s string) (InvitationTier, error) {
	t := InvitationTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

func (t InvitationTier) Valid() bool {
	switch t {
	case TierSingle, TierCouple, TierBox:
		return true
	}
	return false
}

// Seats is how many people the invitation admits.
func (t InvitationTier) Seats() int {
	switch t {
	case TierSingle:
		return 1
	case TierCouple:
		return 2
	case TierBox:
		return 4
	}
	return 0
}

func (t InvitationTier) Label() string {
	switch t {
	case TierSingle:
		return "Convite Unitário"
	case TierCouple:
		return "Convite Casal"
	case TierBox:
		return "Convite Camarote"
	}
	return string(t)
}

// AddOn is an optional extra priced on top of the tier.
type AddOn string

const (
	AddOnTable   AddOn = "mesa"
	AddOnParking AddOn = "estacionamento"
)

func ParseAddOn(s string) (AddOn, error) {
	switch a := AddOn(s); a {
	case AddOnTable, AddOnParking:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAddOn, s)
}

func (a AddOn) Label() string {
	switch a {
	case AddOnTable:
		return "Mesa"
	case AddOnParking:
		return "Estacionamento"
	}
	return string(a)
}

// AddOnSet is an unordered set of add-ons. The zero value is an empty set.
type AddOnSet map[AddOn]struct{}

func NewAddOnSet(addOns ...AddOn) AddOnSet {
	s := make(AddOnSet, len(addOns))
	for _, a := range addOns {
		s[a] = struct{}{}
	}
	return s
}

func (s AddOnSet) Has(a AddOn) bool {
	_, ok := s[a]
	return ok
}

// With returns a copy of the set including a.
func (s AddOnSet) With(a AddOn) AddOnSet {
	out := s.clone()
	out[a] = struct{}{}
	return out
}

// Without returns a copy of the set excluding a.
func (s AddOnSet) Without(a AddOn) AddOnSet {
	out := s.clone()
	delete(out, a)
	return out
}

// Slice returns the members sorted by name.
func (s AddOnSet) Slice() []AddOn {
	out := make([]AddOn, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s AddOnSet) clone() AddOnSet {
	out := make(AddOnSet, len(s)+1)
	for a := range s {
		out[a] = struct{}{}
	}
	return out
}

// Selection is what the visitor intends to buy.
type Selection struct {
	Tier    InvitationTier
	AddOns  AddOnSet
	TableID TableID // NoTable when none chosen
}

// Normalize applies the Box bundling rule: a Box invitation always carries a table.
func (s Selection) Normalize() Selection {
	if s.AddOns == nil {
		s.AddOns = NewAddOnSet()
	}
	if s.Tier == TierBox && !s.AddOns.Has(AddOnTable) {
		s.AddOns = s.AddOns.With(AddOnTable)
	}
	return s
}

// RequiresTable reports whether a table must be chosen before the contact step.
func (s Selection) RequiresTable() bool {
	return s.Tier == TierBox || s.AddOns.Has(AddOnTable)
}

func (s Selection) HasTable() bool {
	return s.TableID != NoTable
}
