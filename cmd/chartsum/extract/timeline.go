package extract

import (
	"fmt"
	"sort"
	"time"

	"github.com/mdplus/chartsum/models/mimic"
)

// EventType categorizes one timeline event.
type EventType string

const (
	EventAdmission  EventType = "Admission"
	EventDiagnosis  EventType = "Diagnosis"
	EventProcedure  EventType = "Procedure"
	EventMedication EventType = "Medication"
	EventLabResult  EventType = "Lab Result"
	EventDischarge  EventType = "Discharge"
)

// Event is one chronologically placed occurrence within an admission,
// derived for presentation and recomputed per request.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"event_type"`
	Description string    `json:"description"`
	Detail      string    `json:"detail,omitempty"`
}

// seqSortLast sorts diagnoses and procedures without a sequence number
// after every ranked one.
const seqSortLast = 999

func seqOrLast(seq *int) int {
	if seq == nil {
		return seqSortLast
	}
	return *seq
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

// BuildTimeline merges one admission's event sources into a chronologically
// sorted sequence. The sort is stable: same-timestamp events keep their
// insertion order (Admission, Diagnosis, Procedure, Medication, Lab
// Result, Discharge).
func BuildTimeline(adm *mimic.AdmissionRecord, diagDict, procDict mimic.ICDDictionary, labItems mimic.LabItemDictionary) []Event {
	if adm == nil {
		return nil
	}

	// An unparseable admission time degrades to "now" rather than dropping
	// the anchor the other fallbacks hang off of.
	admTime := time.Now()
	if adm.AdmitTime != nil {
		admTime = *adm.AdmitTime
	}

	events := []Event{{
		Timestamp:   admTime,
		Type:        EventAdmission,
		Description: fmt.Sprintf("Admitted via %s", derefOr(adm.AdmissionLocation, "Unknown")),
		Detail:      fmt.Sprintf("%+v", adm.Admission),
	}}

	// Diagnoses carry no intrinsic timestamp in the source data; they are
	// pinned to admission time and ordered by clinical importance.
	diagnoses := append([]mimic.Diagnosis(nil), adm.Diagnoses...)
	sort.SliceStable(diagnoses, func(i, j int) bool {
		return seqOrLast(diagnoses[i].SeqNum) < seqOrLast(diagnoses[j].SeqNum)
	})
	for _, d := range diagnoses {
		events = append(events, Event{
			Timestamp:   admTime,
			Type:        EventDiagnosis,
			Description: diagDict.Describe(d.ICDCode, d.ICDVersion),
			Detail:      fmt.Sprintf("%+v", d),
		})
	}

	procedures := append([]mimic.Procedure(nil), adm.Procedures...)
	sort.SliceStable(procedures, func(i, j int) bool {
		return seqOrLast(procedures[i].SeqNum) < seqOrLast(procedures[j].SeqNum)
	})
	for _, p := range procedures {
		ts := admTime
		if p.ChartDate != nil {
			ts = *p.ChartDate
		}
		events = append(events, Event{
			Timestamp:   ts,
			Type:        EventProcedure,
			Description: procDict.Describe(p.ICDCode, p.ICDVersion),
			Detail:      fmt.Sprintf("%+v", p),
		})
	}

	for _, rx := range adm.Prescriptions {
		ts := admTime
		if rx.StartTime != nil {
			ts = *rx.StartTime
		}
		events = append(events, Event{
			Timestamp:   ts,
			Type:        EventMedication,
			Description: fmt.Sprintf("%s - %s %s", derefOr(&rx.Drug, "Unknown drug"), derefOr(rx.DoseValRx, ""), derefOr(rx.DoseUnitRx, "")),
			Detail:      fmt.Sprintf("%+v", rx),
		})
	}

	// Only flagged lab rows make the timeline; unflagged results stay in
	// the lab summary views.
	for _, lab := range adm.LabEvents {
		if !IsFlagged(lab.Flag) {
			continue
		}
		ts := admTime
		if lab.ChartTime != nil {
			ts = *lab.ChartTime
		}
		events = append(events, Event{
			Timestamp:   ts,
			Type:        EventLabResult,
			Description: fmt.Sprintf("%s: %s (%s)", labLabel(lab, labItems), labValue(lab), derefOr(lab.Flag, "")),
			Detail:      fmt.Sprintf("%+v", lab),
		})
	}

	// Discharge is the one event type allowed to be absent: no parseable
	// discharge time means no event, never a faked one.
	if adm.DischTime != nil {
		events = append(events, Event{
			Timestamp:   *adm.DischTime,
			Type:        EventDischarge,
			Description: fmt.Sprintf("Discharged to %s", derefOr(adm.DischargeLocation, "Unknown")),
			Detail:      fmt.Sprintf("%+v", adm.Admission),
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func labLabel(lab mimic.LabEvent, labItems mimic.LabItemDictionary) string {
	if labItems != nil {
		if item, ok := labItems[lab.ItemID]; ok && item.Label != nil {
			return *item.Label
		}
	}
	return fmt.Sprintf("Item %d", lab.ItemID)
}

func labValue(lab mimic.LabEvent) string {
	if lab.ValueNum != nil {
		return formatFloat(*lab.ValueNum)
	}
	if lab.Value != nil {
		return *lab.Value
	}
	return "N/A"
}

// formatFloat renders numbers the way clinical values are usually written:
// integral values keep one decimal place ("5.0"), others print compactly.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprintf("%g", f)
}
