package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TableID identifies a physical table on the seating chart. Valid ids run
// from MinTableID to MaxTableID; zero means no table.
type TableID int

const (
	NoTable    TableID = 0
	MinTableID TableID = 1
	MaxTableID TableID = 144
)

// ParseTableID accepts "40", "040" or " 040 ".
func ParseTableID(s string) (TableID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return NoTable, fmt.Errorf("%w: %q", ErrInvalidTable, s)
	}
	id := TableID(n)
	if !id.Valid() {
		return NoTable, fmt.Errorf("%w: %q", ErrInvalidTable, s)
	}
	return id, nil
}

func (id TableID) Valid() bool {
	return id >= MinTableID && id <= MaxTableID
}

// String renders the id zero-padded to three digits, as printed on the chart.
func (id TableID) String() string {
	if id == NoTable {
		return ""
	}
	return fmt.Sprintf("%03d", int(id))
}

func (id TableID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TableID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = NoTable
		return nil
	}
	parsed, err := ParseTableID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Zone is a disjoint range of table ids.
type Zone int

const (
	ZoneGeneral Zone = iota
	ZoneReserved
	ZoneBoxOnly
)

func (z Zone) String() string {
	switch z {
	case ZoneGeneral:
		return "general"
	case ZoneReserved:
		return "reserved"
	case ZoneBoxOnly:
		return "box_only"
	}
	return "unknown"
}

// Availability is how a table presents to a buyer of a given tier.
type Availability string

const (
	Available Availability = "available"
	Reserved  Availability = "reserved"
	BoxOnly   Availability = "box_only"
)
