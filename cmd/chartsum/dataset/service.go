package dataset

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mdplus/chartsum/models/mimic"
)

// Service owns the filtered tables and indexes for one loaded dataset and
// assembles hierarchical records on demand. The tables are immutable after
// construction; assembled records are built fresh per call and are cheap to
// rebuild from the indexes.
type Service struct {
	cfg    Config
	log    zerolog.Logger
	tables *Tables
	idx    *indexes
	icu    *icuCache
}

// New loads the dataset described by cfg and builds its indexes.
func New(cfg Config, log zerolog.Logger) (*Service, error) {
	src, err := newSource(cfg, log)
	if err != nil {
		return nil, err
	}

	tables, err := loadTables(src, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("loading dataset from %s: %w", cfg.DataDir, err)
	}

	return &Service{
		cfg:    cfg,
		log:    log,
		tables: tables,
		idx:    buildIndexes(tables),
		icu:    newICUCache(src, len(tables.HadmIDs), log),
	}, nil
}

// Tables exposes the filtered flat tables as a read-only view.
func (s *Service) Tables() *Tables { return s.tables }

// DiagnosisDictionary returns the diagnosis dictionary, nil when the
// dictionary file was absent.
func (s *Service) DiagnosisDictionary() mimic.ICDDictionary { return s.tables.DiagnosisDict }

// ProcedureDictionary returns the procedure dictionary, nil when absent.
func (s *Service) ProcedureDictionary() mimic.ICDDictionary { return s.tables.ProcedureDict }

// LabItemDictionary returns the lab item dictionary, nil when absent.
func (s *Service) LabItemDictionary() mimic.LabItemDictionary { return s.tables.LabItems }

// Len reports the number of patients in the filtered dataset.
func (s *Service) Len() int { return len(s.tables.Patients) }

// AllSubjectIDs returns every patient identifier in ascending order.
func (s *Service) AllSubjectIDs() []int64 {
	ids := maps.Keys(s.idx.patientsBySubject)
	slices.Sort(ids)
	return ids
}

// Patient assembles the full hierarchical record for one patient. The
// second return is false when the subject id is not in the dataset.
func (s *Service) Patient(subjectID int64) (*mimic.PatientRecord, bool) {
	p, ok := s.idx.patientsBySubject[subjectID]
	if !ok {
		return nil, false
	}

	rec := &mimic.PatientRecord{Patient: p}
	for _, adm := range s.idx.admissionsBySubject[subjectID] {
		rec.Admissions = append(rec.Admissions, s.assembleAdmission(adm))
	}
	return rec, true
}

// Admission assembles a single admission with its ICU stays, independent of
// its parent patient. The second return is false for unknown ids.
func (s *Service) Admission(hadmID int64) (*mimic.AdmissionRecord, bool) {
	adm, ok := s.idx.admissionsByHadm[hadmID]
	if !ok {
		return nil, false
	}
	return s.assembleAdmission(adm), true
}

func (s *Service) assembleAdmission(adm mimic.Admission) *mimic.AdmissionRecord {
	rec := &mimic.AdmissionRecord{
		Admission:     adm,
		Diagnoses:     s.idx.diagnosesByHadm[adm.HadmID],
		Procedures:    s.idx.proceduresByHadm[adm.HadmID],
		Prescriptions: s.idx.prescriptionsByHadm[adm.HadmID],
		LabEvents:     s.idx.labEventsByHadm[adm.HadmID],
		Microbiology:  s.idx.microByHadm[adm.HadmID],
	}
	for _, stay := range s.idx.staysByHadm[adm.HadmID] {
		rec.ICUStays = append(rec.ICUStays, s.icu.stayRecord(stay))
	}
	return rec
}

// AllPatients assembles every patient record. Cost scales with the total
// number of admissions in the dataset.
func (s *Service) AllPatients() []*mimic.PatientRecord {
	var out []*mimic.PatientRecord
	for _, id := range s.AllSubjectIDs() {
		if rec, ok := s.Patient(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// PatientsByChiefConcern resolves a free-text or exact-code search term
// against the diagnosis dictionary and returns up to maxPatients patients
// (sorted by id) having at least one diagnosis with a matching code. With
// searchDescriptions false only exact code matches count.
func (s *Service) PatientsByChiefConcern(concern string, maxPatients int, searchDescriptions bool) []*mimic.PatientRecord {
	matching := make(map[string]struct{})

	if searchDescriptions {
		needle := strings.ToLower(concern)
		for key, title := range s.tables.DiagnosisDict {
			if strings.Contains(strings.ToLower(title), needle) {
				matching[key.Code] = struct{}{}
			}
		}
	}
	for key := range s.tables.DiagnosisDict {
		if key.Code == concern {
			matching[key.Code] = struct{}{}
		}
	}
	if len(matching) == 0 {
		return nil
	}

	subjectSet := make(map[int64]struct{})
	for _, d := range s.tables.Diagnoses {
		if _, ok := matching[d.ICDCode]; ok {
			subjectSet[d.SubjectID] = struct{}{}
		}
	}
	subjects := maps.Keys(subjectSet)
	slices.Sort(subjects)
	if maxPatients > 0 && len(subjects) > maxPatients {
		subjects = subjects[:maxPatients]
	}

	var out []*mimic.PatientRecord
	for _, id := range subjects {
		if rec, ok := s.Patient(id); ok {
			out = append(out, rec)
		}
	}
	return out
}
