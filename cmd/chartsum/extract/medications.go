package extract

import (
	"sort"
	"time"

	"github.com/mdplus/chartsum/models/mimic"
)

// DischargeMedications returns the prescriptions considered active at or
// after discharge: stop time absent (absence means ongoing, not unknown),
// or stop time at/after the discharge time. When the admission has no
// resolvable discharge time the rule narrows to "stop time absent" only.
// Output is sorted by drug name then start time and is stable across
// repeated calls.
func DischargeMedications(adm *mimic.AdmissionRecord) []mimic.Prescription {
	if adm == nil || len(adm.Prescriptions) == 0 {
		return nil
	}

	var meds []mimic.Prescription
	for _, rx := range adm.Prescriptions {
		if qualifiesAtDischarge(rx, adm.DischTime) {
			meds = append(meds, rx)
		}
	}

	sort.SliceStable(meds, func(i, j int) bool {
		if meds[i].Drug != meds[j].Drug {
			return meds[i].Drug < meds[j].Drug
		}
		ti, tj := meds[i].StartTime, meds[j].StartTime
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
	return meds
}

func qualifiesAtDischarge(rx mimic.Prescription, dischTime *time.Time) bool {
	if dischTime == nil {
		return rx.StopTime == nil
	}
	if rx.StopTime == nil {
		return true
	}
	return !rx.StopTime.Before(*dischTime)
}
