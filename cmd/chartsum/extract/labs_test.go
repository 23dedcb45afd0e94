package extract

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/models/mimic"
	"github.com/mdplus/chartsum/util"
)

func labEvent(id int64, itemID int64, flag *string, chartTime *time.Time) mimic.LabEvent {
	return mimic.LabEvent{
		LabEventID: id,
		HadmID:     util.Int64Ptr(1),
		ItemID:     itemID,
		Flag:       flag,
		ChartTime:  chartTime,
	}
}

func TestSummarizeLabsPartitions(t *testing.T) {
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1},
		LabEvents: []mimic.LabEvent{
			labEvent(1, 50912, util.StringPtr("H"), nil),
			labEvent(2, 50912, util.StringPtr("LOW"), nil),
			labEvent(3, 50912, nil, nil),
			labEvent(4, 50912, util.StringPtr("PENDING"), nil),
		},
	}

	sum := SummarizeLabs(adm, nil, zerolog.Nop())
	if len(sum.All) != 4 {
		t.Errorf("All = %d rows, want 4", len(sum.All))
	}
	if len(sum.Positive) != 1 || sum.Positive[0].LabEventID != 1 {
		t.Errorf("Positive = %+v, want only row 1", sum.Positive)
	}
	// Absent flags classify negative; PENDING classifies neither way.
	if len(sum.Negative) != 2 {
		t.Errorf("Negative = %d rows, want 2", len(sum.Negative))
	}
	// Flagged means any flag at all, including ones that classify neither
	// positive nor negative.
	if len(sum.Flagged) != 3 {
		t.Errorf("Flagged = %d rows, want 3", len(sum.Flagged))
	}
}

func TestSummarizeLabsDictionaryJoin(t *testing.T) {
	labItems := mimic.LabItemDictionary{
		50912: {ItemID: 50912, Label: util.StringPtr("Creatinine"), Category: util.StringPtr("Chemistry")},
	}
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1},
		LabEvents: []mimic.LabEvent{
			labEvent(1, 50912, nil, nil),
			labEvent(2, 12345, nil, nil),
		},
	}

	sum := SummarizeLabs(adm, labItems, zerolog.Nop())
	if sum.All[0].Label == nil || *sum.All[0].Label != "Creatinine" {
		t.Errorf("matched row label = %v, want Creatinine", sum.All[0].Label)
	}
	// Left join: an unmatched item id keeps nil label and category.
	if sum.All[1].Label != nil || sum.All[1].Category != nil {
		t.Errorf("unmatched row should keep nil label/category, got %+v", sum.All[1])
	}
}

func TestSummarizeLabsSortsByChartTime(t *testing.T) {
	t1 := time.Date(2150, 3, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2150, 3, 5, 0, 0, 0, 0, time.UTC)
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1},
		LabEvents: []mimic.LabEvent{
			labEvent(1, 1, nil, util.TimePtr(t2)),
			labEvent(2, 1, nil, nil),
			labEvent(3, 1, nil, util.TimePtr(t1)),
		},
	}

	sum := SummarizeLabs(adm, nil, zerolog.Nop())
	var ids []int64
	for _, row := range sum.All {
		ids = append(ids, row.LabEventID)
	}
	// Missing chart time sorts first, then ascending.
	want := []int64{2, 3, 1}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("sorted ids = %v, want %v", ids, want)
		}
	}
}

func TestSummarizeLabsViewsOverlap(t *testing.T) {
	// The views are independent partitions, not exclusive ones: a positive
	// row is also flagged, and every row lands in All.
	adm := &mimic.AdmissionRecord{
		Admission: mimic.Admission{HadmID: 1},
		LabEvents: []mimic.LabEvent{
			labEvent(1, 1, util.StringPtr("H"), nil),
		},
	}

	sum := SummarizeLabs(adm, nil, zerolog.Nop())
	if len(sum.Positive) != 1 || len(sum.Flagged) != 1 || len(sum.All) != 1 {
		t.Errorf("positive row should appear in Positive, Flagged and All: %+v", sum)
	}
	if len(sum.Negative) != 0 {
		t.Errorf("H must not classify negative")
	}
}

func TestSummarizeLabsEmpty(t *testing.T) {
	sum := SummarizeLabs(&mimic.AdmissionRecord{}, nil, zerolog.Nop())
	if len(sum.All) != 0 || len(sum.Flagged) != 0 {
		t.Errorf("empty admission should yield empty summary, got %+v", sum)
	}
}
