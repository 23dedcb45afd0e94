package dataset

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/models/mimic"
)

// sqlSource reads the same tables from a Postgres database holding the
// standard mimiciv_hosp / mimiciv_icu schemas. It produces row structs
// identical to the CSV source so the loader and indexes are shared.
type sqlSource struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func newSQLSource(dsn string, log zerolog.Logger) (*sqlSource, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to dataset database: %w", err)
	}
	return &sqlSource{db: db, log: log}, nil
}

// asNotExist maps Postgres undefined-table errors onto fs.ErrNotExist so
// the loader's optional-table handling applies to both sources.
func asNotExist(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%v: %w", err, fs.ErrNotExist)
	}
	return err
}

func sqlSelect[T any](db *sqlx.DB, query string) ([]T, error) {
	var out []T
	if err := db.Select(&out, query); err != nil {
		return nil, asNotExist(err)
	}
	return out, nil
}

// sqlScan streams query results in chunkSize batches through fn, closing
// the cursor early when fn asks to stop.
func sqlScan[T any](db *sqlx.DB, query string, fn func([]T) (bool, error)) error {
	rows, err := db.Queryx(query)
	if err != nil {
		return asNotExist(err)
	}
	defer rows.Close()

	chunk := make([]T, 0, chunkSize)
	flush := func() (bool, error) {
		if len(chunk) == 0 {
			return false, nil
		}
		stop, err := fn(chunk)
		chunk = chunk[:0]
		return stop, err
	}

	for rows.Next() {
		var v T
		if err := rows.StructScan(&v); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		chunk = append(chunk, v)
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
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	_, err = flush()
	return err
}

func (s *sqlSource) patients() ([]mimic.Patient, error) {
	return sqlSelect[mimic.Patient](s.db,
		`SELECT subject_id, gender, anchor_age, anchor_year, anchor_year_group, dod
		 FROM mimiciv_hosp.patients`)
}

func (s *sqlSource) admissions() ([]mimic.Admission, error) {
	return sqlSelect[mimic.Admission](s.db,
		`SELECT subject_id, hadm_id, admittime, dischtime, deathtime, admission_type,
		        admission_location, discharge_location, insurance, language,
		        marital_status, race, edregtime, edouttime, hospital_expire_flag
		 FROM mimiciv_hosp.admissions`)
}

func (s *sqlSource) icuStays() ([]mimic.ICUStay, error) {
	return sqlSelect[mimic.ICUStay](s.db,
		`SELECT subject_id, hadm_id, stay_id, first_careunit, last_careunit, intime, outtime, los
		 FROM mimiciv_icu.icustays`)
}

func (s *sqlSource) diagnosisDictionary() (mimic.ICDDictionary, error) {
	return s.readICDDictionary("mimiciv_hosp.d_icd_diagnoses")
}

func (s *sqlSource) procedureDictionary() (mimic.ICDDictionary, error) {
	return s.readICDDictionary("mimiciv_hosp.d_icd_procedures")
}

func (s *sqlSource) readICDDictionary(table string) (mimic.ICDDictionary, error) {
	type row struct {
		ICDCode    string `db:"icd_code"`
		ICDVersion int    `db:"icd_version"`
		LongTitle  string `db:"long_title"`
	}
	rows, err := sqlSelect[row](s.db,
		fmt.Sprintf(`SELECT icd_code, icd_version, long_title FROM %s`, table))
	if err != nil {
		return nil, err
	}
	dict := make(mimic.ICDDictionary, len(rows))
	for _, r := range rows {
		dict[mimic.ICDKey{Code: r.ICDCode, Version: r.ICDVersion}] = r.LongTitle
	}
	return dict, nil
}

func (s *sqlSource) labItems() (mimic.LabItemDictionary, error) {
	rows, err := sqlSelect[mimic.LabItem](s.db,
		`SELECT itemid, label, fluid, category FROM mimiciv_hosp.d_labitems`)
	if err != nil {
		return nil, err
	}
	dict := make(mimic.LabItemDictionary, len(rows))
	for _, item := range rows {
		dict[item.ItemID] = item
	}
	return dict, nil
}

func (s *sqlSource) microbiology() ([]mimic.MicrobiologyEvent, error) {
	return sqlSelect[mimic.MicrobiologyEvent](s.db,
		`SELECT microevent_id, subject_id, hadm_id, charttime, spec_type_desc,
		        test_name, org_name, interpretation, comments
		 FROM mimiciv_hosp.microbiologyevents`)
}

func (s *sqlSource) scanDiagnoses(fn func([]mimic.Diagnosis) (bool, error)) error {
	return sqlScan(s.db,
		`SELECT subject_id, hadm_id, seq_num, icd_code, icd_version
		 FROM mimiciv_hosp.diagnoses_icd`, fn)
}

func (s *sqlSource) scanProcedures(fn func([]mimic.Procedure) (bool, error)) error {
	return sqlScan(s.db,
		`SELECT subject_id, hadm_id, seq_num, chartdate, icd_code, icd_version
		 FROM mimiciv_hosp.procedures_icd`, fn)
}

func (s *sqlSource) scanPrescriptions(fn func([]mimic.Prescription) (bool, error)) error {
	return sqlScan(s.db,
		`SELECT subject_id, hadm_id, starttime, stoptime, drug, dose_val_rx,
		        dose_unit_rx, route, form_rx, doses_per_24_hrs
		 FROM mimiciv_hosp.prescriptions`, fn)
}

func (s *sqlSource) scanLabEvents(fn func([]mimic.LabEvent) (bool, error)) error {
	return sqlScan(s.db,
		`SELECT labevent_id, subject_id, hadm_id, itemid, charttime, value, valuenum,
		        valueuom, ref_range_lower, ref_range_upper, flag, priority, comments
		 FROM mimiciv_hosp.labevents`, fn)
}

func (s *sqlSource) chartEvents(maxRows int) ([]mimic.ChartEvent, error) {
	return sqlSelect[mimic.ChartEvent](s.db, fmt.Sprintf(
		`SELECT stay_id, itemid, charttime, valuenum, valueuom
		 FROM mimiciv_icu.chartevents LIMIT %d`, maxRows))
}

func (s *sqlSource) inputEvents(maxRows int) ([]mimic.InputEvent, error) {
	return sqlSelect[mimic.InputEvent](s.db, fmt.Sprintf(
		`SELECT stay_id, itemid, starttime, endtime, amount, amountuom, ordercategoryname
		 FROM mimiciv_icu.inputevents LIMIT %d`, maxRows))
}

func (s *sqlSource) outputEvents(maxRows int) ([]mimic.OutputEvent, error) {
	return sqlSelect[mimic.OutputEvent](s.db, fmt.Sprintf(
		`SELECT stay_id, itemid, charttime, value, valueuom
		 FROM mimiciv_icu.outputevents LIMIT %d`, maxRows))
}

func (s *sqlSource) procedureEvents(maxRows int) ([]mimic.ProcedureEvent, error) {
	return sqlSelect[mimic.ProcedureEvent](s.db, fmt.Sprintf(
		`SELECT stay_id, itemid, starttime, endtime, value, valueuom
		 FROM mimiciv_icu.procedureevents LIMIT %d`, maxRows))
}
