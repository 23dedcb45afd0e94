package extract

import (
	"sort"
	"testing"
	"time"

	"github.com/mdplus/chartsum/models/mimic"
	"github.com/mdplus/chartsum/util"
)

var (
	admitTime     = time.Date(2150, 3, 1, 8, 0, 0, 0, time.UTC)
	dischargeTime = time.Date(2150, 3, 10, 14, 0, 0, 0, time.UTC)
)

func testDicts() (mimic.ICDDictionary, mimic.ICDDictionary, mimic.LabItemDictionary) {
	diag := mimic.ICDDictionary{
		{Code: "I10", Version: 10}:  "Essential (primary) hypertension",
		{Code: "E119", Version: 10}: "Type 2 diabetes mellitus without complications",
	}
	proc := mimic.ICDDictionary{
		{Code: "0DJ08ZZ", Version: 10}: "Inspection of Upper Intestinal Tract",
	}
	labs := mimic.LabItemDictionary{
		50912: {ItemID: 50912, Label: util.StringPtr("Creatinine"), Category: util.StringPtr("Chemistry")},
	}
	return diag, proc, labs
}

func TestBuildTimelineOrdering(t *testing.T) {
	diagDict, procDict, labItems := testDicts()
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{
			HadmID:            1,
			AdmitTime:         util.TimePtr(admitTime),
			DischTime:         util.TimePtr(dischargeTime),
			AdmissionLocation: util.StringPtr("EMERGENCY ROOM"),
			DischargeLocation: util.StringPtr("HOME"),
		},
		Diagnoses: []mimic.Diagnosis{
			{HadmID: 1, ICDCode: "I10", ICDVersion: 10, SeqNum: util.IntPtr(1)},
		},
		Prescriptions: []mimic.Prescription{
			{HadmID: 1, Drug: "Aspirin", DoseValRx: util.StringPtr("81"), DoseUnitRx: util.StringPtr("mg"),
				StartTime: util.TimePtr(admitTime.AddDate(0, 0, 1))},
		},
		LabEvents: []mimic.LabEvent{
			{LabEventID: 7, HadmID: util.Int64Ptr(1), ItemID: 50912, Flag: util.StringPtr("H"),
				ValueNum: util.Float64Ptr(2.1), ChartTime: util.TimePtr(admitTime.AddDate(0, 0, 2))},
		},
	}

	events := BuildTimeline(adm, diagDict, procDict, labItems)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if !sort.SliceIsSorted(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	}) {
		t.Error("events are not sorted by timestamp")
	}
	if events[0].Type != EventAdmission {
		t.Errorf("first event = %s, want Admission", events[0].Type)
	}
	if events[len(events)-1].Type != EventDischarge {
		t.Errorf("last event = %s, want Discharge", events[len(events)-1].Type)
	}
	if events[0].Description != "Admitted via EMERGENCY ROOM" {
		t.Errorf("admission description = %q", events[0].Description)
	}
}

func TestBuildTimelineDiagnosisSeqOrder(t *testing.T) {
	diagDict, procDict, labItems := testDicts()
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, AdmitTime: util.TimePtr(admitTime)},
		Diagnoses: []mimic.Diagnosis{
			{HadmID: 1, ICDCode: "E119", ICDVersion: 10, SeqNum: util.IntPtr(2)},
			{HadmID: 1, ICDCode: "I10", ICDVersion: 10, SeqNum: util.IntPtr(1)},
			{HadmID: 1, ICDCode: "Z999", ICDVersion: 10},
		},
	}

	events := BuildTimeline(adm, diagDict, procDict, labItems)
	var diagnoses []string
	for _, ev := range events {
		if ev.Type == EventDiagnosis {
			diagnoses = append(diagnoses, ev.Description)
			if !ev.Timestamp.Equal(admitTime) {
				t.Errorf("diagnosis not pinned to admission time: %v", ev.Timestamp)
			}
		}
	}
	if len(diagnoses) != 3 {
		t.Fatalf("got %d diagnosis events, want 3", len(diagnoses))
	}
	if diagnoses[0] != "Essential (primary) hypertension" {
		t.Errorf("sequence 1 diagnosis should come first, got %q", diagnoses[0])
	}
	// No sequence number sorts after every ranked diagnosis, and an unknown
	// code falls back to its version-tagged code string.
	if diagnoses[2] != "ICD-10: Z999" {
		t.Errorf("unranked diagnosis = %q, want code fallback last", diagnoses[2])
	}
}

func TestBuildTimelineFlaggedLabsOnly(t *testing.T) {
	diagDict, procDict, labItems := testDicts()
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, AdmitTime: util.TimePtr(admitTime)},
		LabEvents: []mimic.LabEvent{
			{LabEventID: 1, HadmID: util.Int64Ptr(1), ItemID: 50912, Flag: util.StringPtr("H"), ValueNum: util.Float64Ptr(5)},
			{LabEventID: 2, HadmID: util.Int64Ptr(1), ItemID: 50912},
			{LabEventID: 3, HadmID: util.Int64Ptr(1), ItemID: 99999, Flag: util.StringPtr("L"), Value: util.StringPtr("TRACE")},
		},
	}

	events := BuildTimeline(adm, diagDict, procDict, labItems)
	var labs []Event
	for _, ev := range events {
		if ev.Type == EventLabResult {
			labs = append(labs, ev)
		}
	}
	if len(labs) != 2 {
		t.Fatalf("got %d lab events, want 2 (unflagged rows stay off the timeline)", len(labs))
	}
	if labs[0].Description != "Creatinine: 5.0 (H)" {
		t.Errorf("lab description = %q", labs[0].Description)
	}
	// Unknown item id falls back to the item number, text value passes
	// through unchanged.
	if labs[1].Description != "Item 99999: TRACE (L)" {
		t.Errorf("fallback lab description = %q", labs[1].Description)
	}
}

func TestBuildTimelineNoDischargeTime(t *testing.T) {
	diagDict, procDict, labItems := testDicts()
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, AdmitTime: util.TimePtr(admitTime)},
	}

	events := BuildTimeline(adm, diagDict, procDict, labItems)
	for _, ev := range events {
		if ev.Type == EventDischarge {
			t.Error("no discharge time must mean no discharge event")
		}
	}
}

func TestBuildTimelineNilAdmission(t *testing.T) {
	if got := BuildTimeline(nil, nil, nil, nil); got != nil {
		t.Errorf("nil admission should yield no events, got %d", len(got))
	}
}
