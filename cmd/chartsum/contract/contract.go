// Package contract defines the stable data contract handed to the
// narrative-generation and presentation collaborators. Only ISO-8601
// timestamp strings (or null) cross this boundary.
package contract

import (
	"fmt"
	"strings"
	"time"

	"github.com/mdplus/chartsum/cmd/chartsum/extract"
	"github.com/mdplus/chartsum/models/mimic"
)

// maxDetailItems caps how many lab and medication descriptions render into
// a packaged event's detail string; the full item list is kept alongside.
const maxDetailItems = 10

// TimelineEntry is one packaged timeline event: all same-timestamp events
// of one category collapse into a single entry.
type TimelineEntry struct {
	Timestamp *string  `json:"timestamp"`
	Category  string   `json:"category"`
	Title     string   `json:"title"`
	Details   string   `json:"details"`
	Count     int      `json:"count"`
	Items     []string `json:"items"`
}

// LabEntry is one packaged lab row.
type LabEntry struct {
	Timestamp      *string `json:"timestamp"`
	Category       string  `json:"category"`
	TestName       string  `json:"test_name"`
	Value          any     `json:"value"`
	Status         string  `json:"status"`
	Unit           *string `json:"unit"`
	ReferenceRange *string `json:"reference_range"`
	Comments       string  `json:"comments"`
	ItemID         int64   `json:"itemid"`
}

// MedicationEntry is one packaged discharge medication.
type MedicationEntry struct {
	Drug      string  `json:"drug"`
	Dose      *string `json:"dose"`
	DoseUnit  *string `json:"dose_unit"`
	Route     *string `json:"route"`
	Form      *string `json:"form"`
	Frequency *string `json:"frequency"`
	StartTime *string `json:"start_time"`
	StopTime  *string `json:"stop_time"`
	IsOngoing bool    `json:"is_ongoing"`
}

// AdmissionSummary is the full contract for one admission.
type AdmissionSummary struct {
	HadmID               int64             `json:"hadm_id"`
	Timeline             []TimelineEntry   `json:"timeline"`
	LabResults           []LabEntry        `json:"lab_results"`
	DischargeMedications []MedicationEntry `json:"discharge_medications"`
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// BuildAdmissionSummary packages one admission's derived views into the
// external contract.
func BuildAdmissionSummary(adm *mimic.AdmissionRecord, timeline []extract.Event, labs extract.LabSummary, meds []mimic.Prescription) *AdmissionSummary {
	return &AdmissionSummary{
		HadmID:               adm.HadmID,
		Timeline:             PackageTimeline(timeline),
		LabResults:           PackageLabResults(labs),
		DischargeMedications: PackageMedications(meds),
	}
}

type timelineKey struct {
	ts       time.Time
	category string
}

// PackageTimeline groups events by (timestamp, category), preserving the
// first-seen order of groups from the chronologically sorted input.
func PackageTimeline(events []extract.Event) []TimelineEntry {
	if len(events) == 0 {
		return []TimelineEntry{}
	}

	var order []timelineKey
	groups := make(map[timelineKey][]string)
	for _, ev := range events {
		key := timelineKey{ts: ev.Timestamp, category: packagedCategory(ev.Type)}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev.Description)
	}

	out := make([]TimelineEntry, 0, len(order))
	for _, key := range order {
		items := groups[key]
		ts := key.ts
		out = append(out, TimelineEntry{
			Timestamp: isoTime(&ts),
			Category:  key.category,
			Title:     entryTitle(key.category, len(items)),
			Details:   entryDetails(key.category, items),
			Count:     entryCount(key.category, len(items)),
			Items:     items,
		})
	}
	return out
}

// packagedCategory maps the internal event type to the contract category;
// lab results package as "Lab Tests".
func packagedCategory(t extract.EventType) string {
	if t == extract.EventLabResult {
		return "Lab Tests"
	}
	return string(t)
}

func entryTitle(category string, count int) string {
	switch category {
	case "Admission":
		return "Admitted to Hospital"
	case "Discharge":
		return "Discharged from Hospital"
	case "Diagnosis":
		return fmt.Sprintf("Diagnoses (%d)", count)
	case "Procedure":
		return fmt.Sprintf("Procedures (%d)", count)
	case "Medication":
		return fmt.Sprintf("Medications (%d)", count)
	case "Lab Tests":
		return fmt.Sprintf("Lab Tests (%d)", count)
	default:
		return category
	}
}

// entryCount: admission and discharge package as single events even if the
// grouping produced several descriptions.
func entryCount(category string, count int) int {
	if category == "Admission" || category == "Discharge" {
		return 1
	}
	return count
}

// entryDetails joins descriptions as HTML bullets. Lab and medication
// groups show at most maxDetailItems entries plus an "...and K more"
// suffix; diagnoses and procedures list everything.
func entryDetails(category string, items []string) string {
	switch category {
	case "Admission", "Discharge":
		return items[0]
	}

	limit := len(items)
	if (category == "Lab Tests" || category == "Medication") && limit > maxDetailItems {
		limit = maxDetailItems
	}

	var b strings.Builder
	for i, item := range items[:limit] {
		if i > 0 {
			b.WriteString("<br>")
		}
		b.WriteString("• " + item)
	}
	if limit < len(items) {
		fmt.Fprintf(&b, "<br>• ... and %d more", len(items)-limit)
	}
	return b.String()
}

// PackageLabResults flattens the lab summary into one entry per row, using
// the All view when present and a deduplicated union of the partial views
// otherwise.
func PackageLabResults(labs extract.LabSummary) []LabEntry {
	rows := labs.All
	if len(rows) == 0 {
		rows = dedupeLabs(labs.Positive, labs.Negative, labs.Flagged)
	}
	if len(rows) == 0 {
		return []LabEntry{}
	}

	out := make([]LabEntry, 0, len(rows))
	for _, lab := range rows {
		out = append(out, LabEntry{
			Timestamp:      isoTime(lab.ChartTime),
			Category:       labCategory(lab),
			TestName:       labTestName(lab),
			Value:          labValueField(lab),
			Status:         labStatus(lab.Flag),
			Unit:           lab.ValueUOM,
			ReferenceRange: referenceRange(lab.RefRangeLower, lab.RefRangeUpper),
			Comments:       commentsOrEmpty(lab.Comments),
			ItemID:         lab.ItemID,
		})
	}
	return out
}

func dedupeLabs(views ...[]extract.LabResult) []extract.LabResult {
	seen := make(map[int64]struct{})
	var out []extract.LabResult
	for _, view := range views {
		for _, lab := range view {
			if _, ok := seen[lab.LabEventID]; ok {
				continue
			}
			seen[lab.LabEventID] = struct{}{}
			out = append(out, lab)
		}
	}
	return out
}

func labTestName(lab extract.LabResult) string {
	if lab.Label != nil && *lab.Label != "" {
		return *lab.Label
	}
	return "Unknown Lab"
}

func labCategory(lab extract.LabResult) string {
	if lab.Category != nil && *lab.Category != "" {
		return *lab.Category
	}
	return "Unknown Category"
}

// labValueField prefers the numeric value, falls back to raw text, and is
// null when the row carries neither.
func labValueField(lab extract.LabResult) any {
	if lab.ValueNum != nil {
		return *lab.ValueNum
	}
	if lab.Value != nil {
		return *lab.Value
	}
	return nil
}

// labStatus classifies through the flag predicates so that prefix-flavored
// flags like "H" or "L" resolve the same way their verbose forms do.
// "unknown" rather than leaving the field unset keeps the contract total.
func labStatus(flag *string) string {
	switch {
	case extract.IsPositiveFlag(flag):
		return "abnormal"
	case extract.IsNegativeFlag(flag):
		return "normal"
	default:
		return "unknown"
	}
}

// referenceRange builds a "min-max" string when at least one bound exists;
// a missing bound leaves its side empty.
func referenceRange(lower, upper *float64) *string {
	if lower == nil && upper == nil {
		return nil
	}
	s := formatBound(lower) + "-" + formatBound(upper)
	return &s
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	if *v == float64(int64(*v)) {
		return fmt.Sprintf("%.1f", *v)
	}
	return fmt.Sprintf("%g", *v)
}

func commentsOrEmpty(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

// PackageMedications packages the selected discharge medications.
func PackageMedications(meds []mimic.Prescription) []MedicationEntry {
	out := make([]MedicationEntry, 0, len(meds))
	for _, rx := range meds {
		out = append(out, MedicationEntry{
			Drug:      rx.Drug,
			Dose:      rx.DoseValRx,
			DoseUnit:  rx.DoseUnitRx,
			Route:     rx.Route,
			Form:      rx.FormRx,
			Frequency: frequency(rx.DosesPer24Hrs),
			StartTime: isoTime(rx.StartTime),
			StopTime:  isoTime(rx.StopTime),
			IsOngoing: rx.StopTime == nil,
		})
	}
	return out
}

func frequency(dosesPer24 *float64) *string {
	if dosesPer24 == nil {
		return nil
	}
	s := fmt.Sprintf("%s doses per 24 hours", formatBound(dosesPer24))
	return &s
}
