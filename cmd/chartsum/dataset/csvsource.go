package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/models/mimic"
)

// csvSource reads the MIMIC-IV export layout: gzip-compressed CSV tables
// under hosp/ and icu/ subdirectories. Plain .csv files are accepted too.
type csvSource struct {
	hospDir string
	icuDir  string
	log     zerolog.Logger
}

func newCSVSource(dataDir string, log zerolog.Logger) *csvSource {
	return &csvSource{
		hospDir: filepath.Join(dataDir, "hosp"),
		icuDir:  filepath.Join(dataDir, "icu"),
		log:     log,
	}
}

// tableReader streams one CSV table row at a time. Column access is by
// header name so column order in the export does not matter.
type tableReader struct {
	name    string
	closers []io.Closer
	csv     *csv.Reader
	cols    map[string]int
	row     []string
}

// openTable opens dir/name.csv.gz, falling back to dir/name.csv. A missing
// table surfaces as an error wrapping fs.ErrNotExist so callers can decide
// whether the table is required.
func openTable(dir, name string) (*tableReader, error) {
	gzPath := filepath.Join(dir, name+".csv.gz")
	plainPath := filepath.Join(dir, name+".csv")

	var (
		file    *os.File
		gzipped bool
		err     error
	)
	if file, err = os.Open(gzPath); err == nil {
		gzipped = true
	} else if file, err = os.Open(plainPath); err != nil {
		return nil, fmt.Errorf("table %s: %w", name, fs.ErrNotExist)
	}

	t := &tableReader{name: name, closers: []io.Closer{file}}

	var raw io.Reader = file
	if gzipped {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open %s: %w", gzPath, err)
		}
		t.closers = append(t.closers, gz)
		raw = gz
	}

	t.csv = csv.NewReader(bufio.NewReaderSize(raw, 256*1024))
	t.csv.LazyQuotes = true
	t.csv.FieldsPerRecord = -1

	header, err := t.csv.Read()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	t.cols = make(map[string]int, len(header))
	for i, h := range header {
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return t, nil
}

func (t *tableReader) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i].Close()
	}
}

// Next advances to the next row. It returns false at EOF.
func (t *tableReader) Next() (bool, error) {
	row, err := t.csv.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", t.name, err)
	}
	t.row = row
	return true, nil
}

func (t *tableReader) field(col string) (string, bool) {
	idx, ok := t.cols[col]
	if !ok || idx >= len(t.row) {
		return "", false
	}
	return strings.TrimSpace(t.row[idx]), true
}

// text returns the raw cell value, empty when the column is absent.
func (t *tableReader) text(col string) string {
	v, _ := t.field(col)
	return v
}

// str returns a pointer to the cell value, nil for empty cells.
func (t *tableReader) str(col string) *string {
	v, ok := t.field(col)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// i64 parses an integer cell; ok is false for empty or malformed values.
func (t *tableReader) i64(col string) (int64, bool) {
	v, ok := t.field(col)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Some extracts write integral ids as "12345.0".
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

func (t *tableReader) i64p(col string) *int64 {
	if n, ok := t.i64(col); ok {
		return &n
	}
	return nil
}

func (t *tableReader) intp(col string) *int {
	if n, ok := t.i64(col); ok {
		i := int(n)
		return &i
	}
	return nil
}

func (t *tableReader) f64p(col string) *float64 {
	v, ok := t.field(col)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime null-propagates: unparseable timestamps come back nil rather
// than failing the row. De-identified date shifts pass through untouched.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return &ts
		}
	}
	return nil
}

func (t *tableReader) timep(col string) *time.Time {
	return parseTime(t.text(col))
}

func (s *csvSource) patients() ([]mimic.Patient, error) {
	t, err := openTable(s.hospDir, "patients")
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []mimic.Patient
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		id, ok := t.i64("subject_id")
		if !ok {
			continue
		}
		out = append(out, mimic.Patient{
			SubjectID:       id,
			Gender:          t.str("gender"),
			AnchorAge:       t.intp("anchor_age"),
			AnchorYear:      t.intp("anchor_year"),
			AnchorYearGroup: t.str("anchor_year_group"),
			DOD:             t.timep("dod"),
		})
	}
}

func (s *csvSource) admissions() ([]mimic.Admission, error) {
	t, err := openTable(s.hospDir, "admissions")
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []mimic.Admission
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		subjectID, ok := t.i64("subject_id")
		if !ok {
			continue
		}
		hadmID, ok := t.i64("hadm_id")
		if !ok {
			continue
		}
		out = append(out, mimic.Admission{
			SubjectID:          subjectID,
			HadmID:             hadmID,
			AdmitTime:          t.timep("admittime"),
			DischTime:          t.timep("dischtime"),
			DeathTime:          t.timep("deathtime"),
			AdmissionType:      t.str("admission_type"),
			AdmissionLocation:  t.str("admission_location"),
			DischargeLocation:  t.str("discharge_location"),
			Insurance:          t.str("insurance"),
			Language:           t.str("language"),
			MaritalStatus:      t.str("marital_status"),
			Race:               t.str("race"),
			EDRegTime:          t.timep("edregtime"),
			EDOutTime:          t.timep("edouttime"),
			HospitalExpireFlag: t.intp("hospital_expire_flag"),
		})
	}
}

func (s *csvSource) icuStays() ([]mimic.ICUStay, error) {
	t, err := openTable(s.icuDir, "icustays")
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []mimic.ICUStay
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		subjectID, ok := t.i64("subject_id")
		if !ok {
			continue
		}
		hadmID, ok := t.i64("hadm_id")
		if !ok {
			continue
		}
		stayID, ok := t.i64("stay_id")
		if !ok {
			continue
		}
		out = append(out, mimic.ICUStay{
			SubjectID:     subjectID,
			HadmID:        hadmID,
			StayID:        stayID,
			FirstCareUnit: t.str("first_careunit"),
			LastCareUnit:  t.str("last_careunit"),
			InTime:        t.timep("intime"),
			OutTime:       t.timep("outtime"),
			LOS:           t.f64p("los"),
		})
	}
}

func (s *csvSource) diagnosisDictionary() (mimic.ICDDictionary, error) {
	return s.readICDDictionary("d_icd_diagnoses")
}

func (s *csvSource) procedureDictionary() (mimic.ICDDictionary, error) {
	return s.readICDDictionary("d_icd_procedures")
}

func (s *csvSource) readICDDictionary(name string) (mimic.ICDDictionary, error) {
	t, err := openTable(s.hospDir, name)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	dict := make(mimic.ICDDictionary)
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return dict, nil
		}
		code := t.text("icd_code")
		if code == "" {
			continue
		}
		version, _ := t.i64("icd_version")
		dict[mimic.ICDKey{Code: code, Version: int(version)}] = t.text("long_title")
	}
}

func (s *csvSource) labItems() (mimic.LabItemDictionary, error) {
	t, err := openTable(s.hospDir, "d_labitems")
	if err != nil {
		return nil, err
	}
	defer t.Close()

	dict := make(mimic.LabItemDictionary)
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return dict, nil
		}
		itemID, ok := t.i64("itemid")
		if !ok {
			continue
		}
		dict[itemID] = mimic.LabItem{
			ItemID:   itemID,
			Label:    t.str("label"),
			Fluid:    t.str("fluid"),
			Category: t.str("category"),
		}
	}
}

func (s *csvSource) microbiology() ([]mimic.MicrobiologyEvent, error) {
	t, err := openTable(s.hospDir, "microbiologyevents")
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []mimic.MicrobiologyEvent
	for {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		id, ok := t.i64("microevent_id")
		if !ok {
			continue
		}
		subjectID, _ := t.i64("subject_id")
		out = append(out, mimic.MicrobiologyEvent{
			MicroEventID:   id,
			SubjectID:      subjectID,
			HadmID:         t.i64p("hadm_id"),
			ChartTime:      t.timep("charttime"),
			SpecTypeDesc:   t.str("spec_type_desc"),
			TestName:       t.str("test_name"),
			OrgName:        t.str("org_name"),
			Interpretation: t.str("interpretation"),
			Comments:       t.str("comments"),
		})
	}
}

// scanChunks streams a table in fixed-size row chunks through parse and fn.
// fn returning stop=true ends the scan early.
func scanChunks[T any](dir, name string, parse func(*tableReader) (T, bool), fn func([]T) (bool, error)) error {
	t, err := openTable(dir, name)
	if err != nil {
		return err
	}
	defer t.Close()

	chunk := make([]T, 0, chunkSize)
	flush := func() (bool, error) {
		if len(chunk) == 0 {
			return false, nil
		}
		stop, err := fn(chunk)
		chunk = chunk[:0]
		return stop, err
	}

	for {
		more, err := t.Next()
		if err != nil {
			return err
		}
		if !more {
			_, err := flush()
			return err
		}
		row, ok := parse(t)
		if !ok {
			continue
		}
		chunk = append(chunk, row)
		if len(chunk) == chunkSize {
			stop, err := flush()
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

func parseDiagnosis(t *tableReader) (mimic.Diagnosis, bool) {
	hadmID, ok := t.i64("hadm_id")
	if !ok {
		return mimic.Diagnosis{}, false
	}
	subjectID, _ := t.i64("subject_id")
	version, _ := t.i64("icd_version")
	return mimic.Diagnosis{
		SubjectID:  subjectID,
		HadmID:     hadmID,
		SeqNum:     t.intp("seq_num"),
		ICDCode:    t.text("icd_code"),
		ICDVersion: int(version),
	}, true
}

func parseProcedure(t *tableReader) (mimic.Procedure, bool) {
	hadmID, ok := t.i64("hadm_id")
	if !ok {
		return mimic.Procedure{}, false
	}
	subjectID, _ := t.i64("subject_id")
	version, _ := t.i64("icd_version")
	return mimic.Procedure{
		SubjectID:  subjectID,
		HadmID:     hadmID,
		SeqNum:     t.intp("seq_num"),
		ChartDate:  t.timep("chartdate"),
		ICDCode:    t.text("icd_code"),
		ICDVersion: int(version),
	}, true
}

func parsePrescription(t *tableReader) (mimic.Prescription, bool) {
	hadmID, ok := t.i64("hadm_id")
	if !ok {
		return mimic.Prescription{}, false
	}
	subjectID, _ := t.i64("subject_id")
	return mimic.Prescription{
		SubjectID:     subjectID,
		HadmID:        hadmID,
		StartTime:     t.timep("starttime"),
		StopTime:      t.timep("stoptime"),
		Drug:          t.text("drug"),
		DoseValRx:     t.str("dose_val_rx"),
		DoseUnitRx:    t.str("dose_unit_rx"),
		Route:         t.str("route"),
		FormRx:        t.str("form_rx"),
		DosesPer24Hrs: t.f64p("doses_per_24_hrs"),
	}, true
}

func parseLabEvent(t *tableReader) (mimic.LabEvent, bool) {
	itemID, ok := t.i64("itemid")
	if !ok {
		return mimic.LabEvent{}, false
	}
	id, _ := t.i64("labevent_id")
	subjectID, _ := t.i64("subject_id")
	return mimic.LabEvent{
		LabEventID:    id,
		SubjectID:     subjectID,
		HadmID:        t.i64p("hadm_id"),
		ItemID:        itemID,
		ChartTime:     t.timep("charttime"),
		Value:         t.str("value"),
		ValueNum:      t.f64p("valuenum"),
		ValueUOM:      t.str("valueuom"),
		RefRangeLower: t.f64p("ref_range_lower"),
		RefRangeUpper: t.f64p("ref_range_upper"),
		Flag:          t.str("flag"),
		Priority:      t.str("priority"),
		Comments:      t.str("comments"),
	}, true
}

func (s *csvSource) scanDiagnoses(fn func([]mimic.Diagnosis) (bool, error)) error {
	return scanChunks(s.hospDir, "diagnoses_icd", parseDiagnosis, fn)
}

func (s *csvSource) scanProcedures(fn func([]mimic.Procedure) (bool, error)) error {
	return scanChunks(s.hospDir, "procedures_icd", parseProcedure, fn)
}

func (s *csvSource) scanPrescriptions(fn func([]mimic.Prescription) (bool, error)) error {
	return scanChunks(s.hospDir, "prescriptions", parsePrescription, fn)
}

func (s *csvSource) scanLabEvents(fn func([]mimic.LabEvent) (bool, error)) error {
	return scanChunks(s.hospDir, "labevents", parseLabEvent, fn)
}

// readCapped loads up to maxRows parsed rows from an ICU time-series table.
func readCapped[T any](dir, name string, maxRows int, parse func(*tableReader) (T, bool)) ([]T, error) {
	t, err := openTable(dir, name)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []T
	for len(out) < maxRows {
		more, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
		if row, ok := parse(t); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *csvSource) chartEvents(maxRows int) ([]mimic.ChartEvent, error) {
	return readCapped(s.icuDir, "chartevents", maxRows, func(t *tableReader) (mimic.ChartEvent, bool) {
		stayID, ok := t.i64("stay_id")
		if !ok {
			return mimic.ChartEvent{}, false
		}
		itemID, _ := t.i64("itemid")
		return mimic.ChartEvent{
			StayID:    stayID,
			ItemID:    itemID,
			ChartTime: t.timep("charttime"),
			ValueNum:  t.f64p("valuenum"),
			ValueUOM:  t.str("valueuom"),
		}, true
	})
}

func (s *csvSource) inputEvents(maxRows int) ([]mimic.InputEvent, error) {
	return readCapped(s.icuDir, "inputevents", maxRows, func(t *tableReader) (mimic.InputEvent, bool) {
		stayID, ok := t.i64("stay_id")
		if !ok {
			return mimic.InputEvent{}, false
		}
		itemID, _ := t.i64("itemid")
		return mimic.InputEvent{
			StayID:     stayID,
			ItemID:     itemID,
			StartTime:  t.timep("starttime"),
			EndTime:    t.timep("endtime"),
			Amount:     t.f64p("amount"),
			AmountUOM:  t.str("amountuom"),
			OrderCatID: t.str("ordercategoryname"),
		}, true
	})
}

func (s *csvSource) outputEvents(maxRows int) ([]mimic.OutputEvent, error) {
	return readCapped(s.icuDir, "outputevents", maxRows, func(t *tableReader) (mimic.OutputEvent, bool) {
		stayID, ok := t.i64("stay_id")
		if !ok {
			return mimic.OutputEvent{}, false
		}
		itemID, _ := t.i64("itemid")
		return mimic.OutputEvent{
			StayID:    stayID,
			ItemID:    itemID,
			ChartTime: t.timep("charttime"),
			Value:     t.f64p("value"),
			ValueUOM:  t.str("valueuom"),
		}, true
	})
}

func (s *csvSource) procedureEvents(maxRows int) ([]mimic.ProcedureEvent, error) {
	return readCapped(s.icuDir, "procedureevents", maxRows, func(t *tableReader) (mimic.ProcedureEvent, bool) {
		stayID, ok := t.i64("stay_id")
		if !ok {
			return mimic.ProcedureEvent{}, false
		}
		itemID, _ := t.i64("itemid")
		return mimic.ProcedureEvent{
			StayID:    stayID,
			ItemID:    itemID,
			StartTime: t.timep("starttime"),
			EndTime:   t.timep("endtime"),
			Value:     t.f64p("value"),
			ValueUOM:  t.str("valueuom"),
		}, true
	})
}
