package extract

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/models/mimic"
)

// LabResult is one lab row joined with its dictionary entry. Label and
// Category stay nil when the item id has no dictionary match.
type LabResult struct {
	mimic.LabEvent
	Label    *string `json:"label,omitempty"`
	Category *string `json:"category,omitempty"`
}

// LabSummary partitions one admission's lab rows by flag classification.
// The views may overlap: Positive and Negative are independent predicates,
// Flagged holds every row with any flag, All holds everything. Each view is
// sorted ascending by chart time with unparseable chart times first.
type LabSummary struct {
	Positive []LabResult
	Negative []LabResult
	Flagged  []LabResult
	All      []LabResult
}

// SummarizeLabs classifies and partitions an admission's lab results.
// Dictionary lookups are a left join: unmatched item ids keep nil labels.
func SummarizeLabs(adm *mimic.AdmissionRecord, labItems mimic.LabItemDictionary, log zerolog.Logger) LabSummary {
	var sum LabSummary
	if adm == nil || len(adm.LabEvents) == 0 {
		return sum
	}

	labs := make([]LabResult, 0, len(adm.LabEvents))
	for _, ev := range adm.LabEvents {
		row := LabResult{LabEvent: ev}
		if labItems != nil {
			if item, ok := labItems[ev.ItemID]; ok {
				row.Label = item.Label
				row.Category = item.Category
			}
		}
		labs = append(labs, row)
	}

	sortLabsByChartTime(labs)

	for _, row := range labs {
		pos := IsPositiveFlag(row.Flag)
		neg := IsNegativeFlag(row.Flag)
		if pos && neg {
			// The predicates are independent and do not adjudicate
			// conflicts; report the row in both views.
			log.Warn().Str("flag", NormalizeFlag(row.Flag)).Int64("itemid", row.ItemID).
				Msg("Lab flag classifies as both positive and negative")
		}
		if pos {
			sum.Positive = append(sum.Positive, row)
		}
		if neg {
			sum.Negative = append(sum.Negative, row)
		}
		if IsFlagged(row.Flag) {
			sum.Flagged = append(sum.Flagged, row)
		}
	}
	sum.All = labs
	return sum
}

// sortLabsByChartTime sorts ascending by chart time; rows without a
// parseable chart time consistently sort first.
func sortLabsByChartTime(labs []LabResult) {
	sort.SliceStable(labs, func(i, j int) bool {
		ti, tj := labs[i].ChartTime, labs[j].ChartTime
		switch {
		case ti == nil && tj == nil:
			return false
		case ti == nil:
			return true
		case tj == nil:
			return false
		default:
			return ti.Before(*tj)
		}
	})
}
