package services

import (
	"fmt"

	"invite-checkout/models"
)

// Table id partitions of the venue. Together they cover 001-144 exactly once.
var (
	boxZone      = tableRange{1, 36}
	reservedZone = tableRange{37, 48}
	generalZone  = tableRange{49, 144}
)

type tableRange struct {
	first, last models.TableID
}

func (r tableRange) contains(id models.TableID) bool {
	return id >= r.first && id <= r.last
}

func (r tableRange) ids() []models.TableID {
	out := make([]models.TableID, 0, int(r.last-r.first)+1)
	for id := r.first; id <= r.last; id++ {
		out = append(out, id)
	}
	return out
}

// Classify returns the zone a table belongs to.
func Classify(id models.TableID) (models.Zone, error) {
	switch {
	case boxZone.contains(id):
		return models.ZoneBoxOnly, nil
	case reservedZone.contains(id):
		return models.ZoneReserved, nil
	case generalZone.contains(id):
		return models.ZoneGeneral, nil
	}
	return 0, fmt.Errorf("classify %d: %w", int(id), models.ErrInvalidTable)
}

// IsSelectable reports whether a buyer of tier may pick the table. Reserved
// tables are never selectable, Box tables only for Box buyers and general
// tables only for everyone else.
func IsSelectable(id models.TableID, tier models.InvitationTier) bool {
	zone, err := Classify(id)
	if err != nil {
		return false
	}
	switch zone {
	case models.ZoneBoxOnly:
		return tier == models.TierBox
	case models.ZoneGeneral:
		return tier != models.TierBox
	}
	return false
}

// AvailabilityOf derives how a table presents to a buyer of tier. Available
// holds exactly when the table is selectable; a general table seen by a Box
// buyer is off-limits and presents as Reserved.
func AvailabilityOf(id models.TableID, tier models.InvitationTier) (models.Availability, error) {
	zone, err := Classify(id)
	if err != nil {
		return "", err
	}
	switch {
	case zone == models.ZoneReserved:
		return models.Reserved, nil
	case zone == models.ZoneBoxOnly && tier != models.TierBox:
		return models.BoxOnly, nil
	case zone == models.ZoneGeneral && tier == models.TierBox:
		return models.Reserved, nil
	}
	return models.Available, nil
}

// TableView is one table as rendered on the chart.
type TableView struct {
	ID           models.TableID      `json:"id"`
	Availability models.Availability `json:"availability"`
	Selectable   bool                `json:"selectable"`
	Selected     bool                `json:"selected"`
}

// ChartSection is a labelled block of tables on the venue map.
type ChartSection struct {
	Name    string      `json:"name"`
	Columns int         `json:"columns"`
	Tables  []TableView `json:"tables"`
}

var chartLayout = []struct {
	name    string
	columns int
	tables  tableRange
}{
	{"CAMAROTE", 3, tableRange{1, 18}},
	{"CAMAROTE", 3, tableRange{19, 36}},
	{"PISTA", 3, tableRange{37, 42}},
	{"PISTA", 3, tableRange{43, 48}},
	{"PISTA", 12, generalZone},
}

// Chart lays out every table for a buyer of tier with the current selection
// highlighted.
func Chart(tier models.InvitationTier, selected models.TableID) []ChartSection {
	sections := make([]ChartSection, 0, len(chartLayout))
	for _, block := range chartLayout {
		section := ChartSection{Name: block.name, Columns: block.columns}
		for _, id := range block.tables.ids() {
			availability, _ := AvailabilityOf(id, tier)
			section.Tables = append(section.Tables, TableView{
				ID:           id,
				Availability: availability,
				Selectable:   availability == models.Available,
				Selected:     id == selected,
			})
		}
		sections = append(sections, section)
	}
	return sections
}
