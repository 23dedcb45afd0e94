package extract

import (
	"reflect"
	"testing"
	"time"

	"github.com/mdplus/chartsum/models/mimic"
	"github.com/mdplus/chartsum/util"
)

var dischTime = time.Date(2150, 3, 10, 14, 0, 0, 0, time.UTC)

func rx(drug string, start, stop *time.Time) mimic.Prescription {
	return mimic.Prescription{HadmID: 1, Drug: drug, StartTime: start, StopTime: stop}
}

func TestDischargeMedicationsSelection(t *testing.T) {
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, DischTime: util.TimePtr(dischTime)},
		Prescriptions: []mimic.Prescription{
			rx("Aspirin", nil, util.TimePtr(dischTime.AddDate(0, 0, 2))),
			rx("Heparin", nil, util.TimePtr(dischTime.AddDate(0, 0, -5))),
			rx("Lisinopril", nil, nil),
			rx("Metformin", nil, util.TimePtr(dischTime)),
		},
	}

	meds := DischargeMedications(adm)
	var drugs []string
	for _, m := range meds {
		drugs = append(drugs, m.Drug)
	}
	// Stopped 5 days before discharge: excluded. Stopped exactly at
	// discharge, stopped after, and never stopped: included.
	want := []string{"Aspirin", "Lisinopril", "Metformin"}
	if !reflect.DeepEqual(drugs, want) {
		t.Errorf("selected drugs = %v, want %v", drugs, want)
	}
}

func TestDischargeMedicationsWithoutDischargeTime(t *testing.T) {
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1},
		Prescriptions: []mimic.Prescription{
			rx("Aspirin", nil, util.TimePtr(dischTime.AddDate(1, 0, 0))),
			rx("Lisinopril", nil, nil),
		},
	}

	meds := DischargeMedications(adm)
	// Without a discharge time only never-stopped orders qualify, even ones
	// stopping far in the future.
	if len(meds) != 1 || meds[0].Drug != "Lisinopril" {
		t.Errorf("selected = %+v, want only Lisinopril", meds)
	}
}

func TestDischargeMedicationsSortOrder(t *testing.T) {
	early := util.TimePtr(dischTime.AddDate(0, 0, -10))
	late := util.TimePtr(dischTime.AddDate(0, 0, -1))
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, DischTime: util.TimePtr(dischTime)},
		Prescriptions: []mimic.Prescription{
			rx("Warfarin", late, nil),
			rx("Aspirin", late, nil),
			rx("Warfarin", early, nil),
			rx("Warfarin", nil, nil),
		},
	}

	meds := DischargeMedications(adm)
	if len(meds) != 4 {
		t.Fatalf("got %d meds, want 4", len(meds))
	}
	if meds[0].Drug != "Aspirin" {
		t.Errorf("first drug = %s, want Aspirin", meds[0].Drug)
	}
	// Within a drug: nil start first, then ascending start time.
	if meds[1].StartTime != nil {
		t.Errorf("nil start time should sort first within a drug")
	}
	if !meds[2].StartTime.Equal(*early) || !meds[3].StartTime.Equal(*late) {
		t.Errorf("start times out of order: %v, %v", meds[2].StartTime, meds[3].StartTime)
	}
}

func TestDischargeMedicationsIdempotent(t *testing.T) {
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1, DischTime: util.TimePtr(dischTime)},
		Prescriptions: []mimic.Prescription{
			rx("Aspirin", nil, nil),
			rx("Warfarin", nil, nil),
			rx("Aspirin", util.TimePtr(dischTime), nil),
		},
	}

	first := DischargeMedications(adm)
	second := DischargeMedications(adm)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated selection differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDischargeMedicationsNilAdmission(t *testing.T) {
	if got := DischargeMedications(nil); got != nil {
		t.Errorf("nil admission should select nothing, got %+v", got)
	}
}
