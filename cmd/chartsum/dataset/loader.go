package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mdplus/chartsum/models/mimic"
)

// chunkSize bounds peak memory while scanning the large per-row tables.
const chunkSize = 100000

// smallWorkingSet is the admission-count threshold below which lab-event
// streaming may stop after the first matching chunk, and below which ICU
// time-series enrichment is performed at all.
const smallWorkingSet = 10

// Config selects and filters the dataset to load.
type Config struct {
	// DataDir points at the export root (containing hosp/ and icu/), or a
	// postgres:// URL when the tables live in a database.
	DataDir string

	// MaxPatients keeps the first N distinct subject ids in sorted order
	// among those surviving the filters. Zero loads all patients.
	MaxPatients int

	// AdmissionTypes keeps only admissions whose type is in the set.
	// Empty keeps everything.
	AdmissionTypes []string

	// DiagnosisFilter keeps only admissions with at least one matching
	// diagnosis. A single entry is tried as a regular expression first and
	// falls back to literal code equality if it does not compile; multiple
	// entries are literal codes.
	DiagnosisFilter []string

	// ExhaustiveLabLoad disables the best-effort early exit that stops
	// lab-event streaming after the first matching chunk for working sets
	// of at most 10 admissions.
	ExhaustiveLabLoad bool
}

// source abstracts where the flat tables come from (CSV export or SQL).
// Optional tables report absence via fs.ErrNotExist.
type source interface {
	patients() ([]mimic.Patient, error)
	admissions() ([]mimic.Admission, error)
	icuStays() ([]mimic.ICUStay, error)
	diagnosisDictionary() (mimic.ICDDictionary, error)
	procedureDictionary() (mimic.ICDDictionary, error)
	labItems() (mimic.LabItemDictionary, error)
	microbiology() ([]mimic.MicrobiologyEvent, error)
	scanDiagnoses(fn func([]mimic.Diagnosis) (bool, error)) error
	scanProcedures(fn func([]mimic.Procedure) (bool, error)) error
	scanPrescriptions(fn func([]mimic.Prescription) (bool, error)) error
	scanLabEvents(fn func([]mimic.LabEvent) (bool, error)) error
	chartEvents(maxRows int) ([]mimic.ChartEvent, error)
	inputEvents(maxRows int) ([]mimic.InputEvent, error)
	outputEvents(maxRows int) ([]mimic.OutputEvent, error)
	procedureEvents(maxRows int) ([]mimic.ProcedureEvent, error)
}

// Tables holds the filtered flat tables. They are built once per load and
// never mutated afterwards.
type Tables struct {
	Patients      []mimic.Patient
	Admissions    []mimic.Admission
	Diagnoses     []mimic.Diagnosis
	Procedures    []mimic.Procedure
	Prescriptions []mimic.Prescription
	LabEvents     []mimic.LabEvent
	Microbiology  []mimic.MicrobiologyEvent
	ICUStays      []mimic.ICUStay

	DiagnosisDict mimic.ICDDictionary
	ProcedureDict mimic.ICDDictionary
	LabItems      mimic.LabItemDictionary

	SubjectIDs map[int64]struct{}
	HadmIDs    map[int64]struct{}
}

// diagnosisMatcher evaluates the configured diagnosis filter against a code.
type diagnosisMatcher struct {
	codes   []string
	pattern *regexp.Regexp
}

func newDiagnosisMatcher(filter []string, log zerolog.Logger) *diagnosisMatcher {
	if len(filter) == 0 {
		return nil
	}
	if len(filter) == 1 {
		if re, err := regexp.Compile(filter[0]); err == nil {
			return &diagnosisMatcher{pattern: re}
		}
		// Malformed pattern: fall back to literal equality.
		log.Warn().Str("filter", filter[0]).Msg("Diagnosis filter is not a valid pattern, matching literally")
		return &diagnosisMatcher{codes: filter}
	}
	return &diagnosisMatcher{codes: filter}
}

func (m *diagnosisMatcher) matches(code string) bool {
	if m.pattern != nil {
		return m.pattern.MatchString(code)
	}
	return slices.Contains(m.codes, code)
}

// loadTables loads, filters and restricts every source table.
func loadTables(src source, cfg Config, log zerolog.Logger) (*Tables, error) {
	t := &Tables{}

	patients, err := src.patients()
	if err != nil {
		return nil, fmt.Errorf("loading patients: %w", err)
	}
	admissions, err := src.admissions()
	if err != nil {
		return nil, fmt.Errorf("loading admissions: %w", err)
	}

	// Admission-type filter.
	if len(cfg.AdmissionTypes) > 0 {
		kept := admissions[:0:0]
		for _, adm := range admissions {
			if adm.AdmissionType != nil && slices.Contains(cfg.AdmissionTypes, *adm.AdmissionType) {
				kept = append(kept, adm)
			}
		}
		admissions = kept
		log.Info().Strs("types", cfg.AdmissionTypes).Int("admissions", len(admissions)).Msg("Filtered by admission type")
	}

	// Diagnosis filter: scan diagnoses_icd in chunks, accumulate matching
	// hadm ids, then intersect. Only set membership matters.
	if matcher := newDiagnosisMatcher(cfg.DiagnosisFilter, log); matcher != nil {
		matching := make(map[int64]struct{})
		err := src.scanDiagnoses(func(chunk []mimic.Diagnosis) (bool, error) {
			for _, d := range chunk {
				if matcher.matches(d.ICDCode) {
					matching[d.HadmID] = struct{}{}
				}
			}
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning diagnoses for filter: %w", err)
		}

		kept := admissions[:0:0]
		for _, adm := range admissions {
			if _, ok := matching[adm.HadmID]; ok {
				kept = append(kept, adm)
			}
		}
		admissions = kept
		if len(matching) == 0 {
			log.Info().Msg("No admissions match the diagnosis filter")
		} else {
			log.Info().Int("matching_admissions", len(matching)).Int("kept", len(admissions)).Msg("Filtered by diagnosis codes")
		}
	}

	// Patient cap: first N distinct subject ids in sorted order.
	if cfg.MaxPatients > 0 {
		subjectSet := make(map[int64]struct{})
		for _, adm := range admissions {
			subjectSet[adm.SubjectID] = struct{}{}
		}
		subjects := maps.Keys(subjectSet)
		slices.Sort(subjects)
		if len(subjects) > cfg.MaxPatients {
			subjects = subjects[:cfg.MaxPatients]
		}
		capped := make(map[int64]struct{}, len(subjects))
		for _, id := range subjects {
			capped[id] = struct{}{}
		}
		kept := admissions[:0:0]
		for _, adm := range admissions {
			if _, ok := capped[adm.SubjectID]; ok {
				kept = append(kept, adm)
			}
		}
		admissions = kept
		log.Info().Int("patients", len(subjects)).Msg("Limited patient count")
	}

	t.Admissions = admissions
	t.SubjectIDs = make(map[int64]struct{})
	t.HadmIDs = make(map[int64]struct{}, len(admissions))
	for _, adm := range admissions {
		t.SubjectIDs[adm.SubjectID] = struct{}{}
		t.HadmIDs[adm.HadmID] = struct{}{}
	}

	for _, p := range patients {
		if _, ok := t.SubjectIDs[p.SubjectID]; ok {
			t.Patients = append(t.Patients, p)
		}
	}
	log.Info().Int("patients", len(t.Patients)).Int("admissions", len(t.Admissions)).Msg("Filtered core tables")

	// ICU stays are optional: their absence disables stay enrichment only.
	stays, err := src.icuStays()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Msg("ICU stays table missing, stay data disabled")
	case err != nil:
		return nil, fmt.Errorf("loading icu stays: %w", err)
	default:
		for _, stay := range stays {
			if _, ok := t.HadmIDs[stay.HadmID]; ok {
				t.ICUStays = append(t.ICUStays, stay)
			}
		}
	}

	// Dictionaries are optional: lookups fall back to code strings.
	if t.DiagnosisDict, err = src.diagnosisDictionary(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading diagnosis dictionary: %w", err)
		}
		log.Warn().Msg("Diagnosis dictionary missing, descriptions degrade to codes")
	}
	if t.ProcedureDict, err = src.procedureDictionary(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading procedure dictionary: %w", err)
		}
		log.Warn().Msg("Procedure dictionary missing, descriptions degrade to codes")
	}
	if t.LabItems, err = src.labItems(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading lab item dictionary: %w", err)
		}
		log.Warn().Msg("Lab item dictionary missing, lab labels degrade to item ids")
	}

	// Dependent tables restricted to the surviving admission set.
	err = src.scanDiagnoses(func(chunk []mimic.Diagnosis) (bool, error) {
		for _, d := range chunk {
			if _, ok := t.HadmIDs[d.HadmID]; ok {
				t.Diagnoses = append(t.Diagnoses, d)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading diagnoses: %w", err)
	}

	err = src.scanProcedures(func(chunk []mimic.Procedure) (bool, error) {
		for _, p := range chunk {
			if _, ok := t.HadmIDs[p.HadmID]; ok {
				t.Procedures = append(t.Procedures, p)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading procedures: %w", err)
	}

	if len(t.HadmIDs) > 0 {
		err = src.scanPrescriptions(func(chunk []mimic.Prescription) (bool, error) {
			for _, rx := range chunk {
				if _, ok := t.HadmIDs[rx.HadmID]; ok {
					t.Prescriptions = append(t.Prescriptions, rx)
				}
			}
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("loading prescriptions: %w", err)
		}

		// Lab events stream in chunks. For very small working sets the scan
		// stops once a chunk has matched, trading completeness for load
		// latency, unless an exhaustive load was requested.
		err = src.scanLabEvents(func(chunk []mimic.LabEvent) (bool, error) {
			for _, lab := range chunk {
				if lab.HadmID == nil {
					continue
				}
				if _, ok := t.HadmIDs[*lab.HadmID]; ok {
					t.LabEvents = append(t.LabEvents, lab)
				}
			}
			stop := !cfg.ExhaustiveLabLoad &&
				len(t.HadmIDs) <= smallWorkingSet &&
				len(t.LabEvents) > 0
			return stop, nil
		})
		if err != nil {
			return nil, fmt.Errorf("loading lab events: %w", err)
		}
	}

	micro, err := src.microbiology()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Msg("Microbiology table missing, microbiology data disabled")
	case err != nil:
		return nil, fmt.Errorf("loading microbiology: %w", err)
	default:
		for _, ev := range micro {
			if ev.HadmID == nil {
				continue
			}
			if _, ok := t.HadmIDs[*ev.HadmID]; ok {
				t.Microbiology = append(t.Microbiology, ev)
			}
		}
	}

	log.Info().
		Int("diagnoses", len(t.Diagnoses)).
		Int("procedures", len(t.Procedures)).
		Int("prescriptions", len(t.Prescriptions)).
		Int("lab_events", len(t.LabEvents)).
		Int("microbiology", len(t.Microbiology)).
		Int("icu_stays", len(t.ICUStays)).
		Msg("Completed table load")

	return t, nil
}

// newSource picks the table source from the location string.
func newSource(cfg Config, log zerolog.Logger) (source, error) {
	if strings.HasPrefix(cfg.DataDir, "postgres://") || strings.HasPrefix(cfg.DataDir, "postgresql://") {
		return newSQLSource(cfg.DataDir, log)
	}
	return newCSVSource(cfg.DataDir, log), nil
}
