package dataset

import "github.com/mdplus/chartsum/models/mimic"

// indexes are the derived lookup structures, built once per loaded dataset
// and read-only afterwards. Row order from the source tables is preserved;
// seq_num ordering is applied later by consumers.
type indexes struct {
	admissionsBySubject map[int64][]mimic.Admission
	diagnosesByHadm     map[int64][]mimic.Diagnosis
	proceduresByHadm    map[int64][]mimic.Procedure
	prescriptionsByHadm map[int64][]mimic.Prescription
	labEventsByHadm     map[int64][]mimic.LabEvent
	microByHadm         map[int64][]mimic.MicrobiologyEvent
	staysByHadm         map[int64][]mimic.ICUStay
	patientsBySubject   map[int64]mimic.Patient
	admissionsByHadm    map[int64]mimic.Admission
}

func buildIndexes(t *Tables) *indexes {
	idx := &indexes{
		admissionsBySubject: make(map[int64][]mimic.Admission),
		diagnosesByHadm:     make(map[int64][]mimic.Diagnosis),
		proceduresByHadm:    make(map[int64][]mimic.Procedure),
		prescriptionsByHadm: make(map[int64][]mimic.Prescription),
		labEventsByHadm:     make(map[int64][]mimic.LabEvent),
		microByHadm:         make(map[int64][]mimic.MicrobiologyEvent),
		staysByHadm:         make(map[int64][]mimic.ICUStay),
		patientsBySubject:   make(map[int64]mimic.Patient, len(t.Patients)),
		admissionsByHadm:    make(map[int64]mimic.Admission, len(t.Admissions)),
	}

	for _, p := range t.Patients {
		idx.patientsBySubject[p.SubjectID] = p
	}
	for _, adm := range t.Admissions {
		idx.admissionsBySubject[adm.SubjectID] = append(idx.admissionsBySubject[adm.SubjectID], adm)
		idx.admissionsByHadm[adm.HadmID] = adm
	}
	for _, d := range t.Diagnoses {
		idx.diagnosesByHadm[d.HadmID] = append(idx.diagnosesByHadm[d.HadmID], d)
	}
	for _, p := range t.Procedures {
		idx.proceduresByHadm[p.HadmID] = append(idx.proceduresByHadm[p.HadmID], p)
	}
	for _, rx := range t.Prescriptions {
		idx.prescriptionsByHadm[rx.HadmID] = append(idx.prescriptionsByHadm[rx.HadmID], rx)
	}
	for _, lab := range t.LabEvents {
		if lab.HadmID == nil {
			continue
		}
		// Restrict to admission ids known to exist: many lab rows carry no
		// valid admission linkage.
		if _, ok := idx.admissionsByHadm[*lab.HadmID]; !ok {
			continue
		}
		idx.labEventsByHadm[*lab.HadmID] = append(idx.labEventsByHadm[*lab.HadmID], lab)
	}
	for _, ev := range t.Microbiology {
		if ev.HadmID == nil {
			continue
		}
		idx.microByHadm[*ev.HadmID] = append(idx.microByHadm[*ev.HadmID], ev)
	}
	for _, stay := range t.ICUStays {
		idx.staysByHadm[stay.HadmID] = append(idx.staysByHadm[stay.HadmID], stay)
	}

	return idx
}
