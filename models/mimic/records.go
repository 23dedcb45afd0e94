package mimic

import "time"

// Patient is one row of hosp/patients. All demographic fields are nullable
// in the source extract.
type Patient struct {
	SubjectID       int64      `json:"subject_id" db:"subject_id"`
	Gender          *string    `json:"gender,omitempty" db:"gender"`
	AnchorAge       *int       `json:"anchor_age,omitempty" db:"anchor_age"`
	AnchorYear      *int       `json:"anchor_year,omitempty" db:"anchor_year"`
	AnchorYearGroup *string    `json:"anchor_year_group,omitempty" db:"anchor_year_group"`
	DOD             *time.Time `json:"dod,omitempty" db:"dod"`
}

// Admission is one row of hosp/admissions. Timestamps carry the source's
// de-identification date shift and are passed through unmodified.
type Admission struct {
	SubjectID          int64      `json:"subject_id" db:"subject_id"`
	HadmID             int64      `json:"hadm_id" db:"hadm_id"`
	AdmitTime          *time.Time `json:"admittime,omitempty" db:"admittime"`
	DischTime          *time.Time `json:"dischtime,omitempty" db:"dischtime"`
	DeathTime          *time.Time `json:"deathtime,omitempty" db:"deathtime"`
	AdmissionType      *string    `json:"admission_type,omitempty" db:"admission_type"`
	AdmissionLocation  *string    `json:"admission_location,omitempty" db:"admission_location"`
	DischargeLocation  *string    `json:"discharge_location,omitempty" db:"discharge_location"`
	Insurance          *string    `json:"insurance,omitempty" db:"insurance"`
	Language           *string    `json:"language,omitempty" db:"language"`
	MaritalStatus      *string    `json:"marital_status,omitempty" db:"marital_status"`
	Race               *string    `json:"race,omitempty" db:"race"`
	EDRegTime          *time.Time `json:"edregtime,omitempty" db:"edregtime"`
	EDOutTime          *time.Time `json:"edouttime,omitempty" db:"edouttime"`
	HospitalExpireFlag *int       `json:"hospital_expire_flag,omitempty" db:"hospital_expire_flag"`
}

// Diagnosis is one row of hosp/diagnoses_icd. SeqNum ranks clinical
// importance; lower is generally primary.
type Diagnosis struct {
	SubjectID  int64  `json:"subject_id" db:"subject_id"`
	HadmID     int64  `json:"hadm_id" db:"hadm_id"`
	SeqNum     *int   `json:"seq_num,omitempty" db:"seq_num"`
	ICDCode    string `json:"icd_code" db:"icd_code"`
	ICDVersion int    `json:"icd_version" db:"icd_version"`
}

// Procedure is one row of hosp/procedures_icd.
type Procedure struct {
	SubjectID  int64      `json:"subject_id" db:"subject_id"`
	HadmID     int64      `json:"hadm_id" db:"hadm_id"`
	SeqNum     *int       `json:"seq_num,omitempty" db:"seq_num"`
	ChartDate  *time.Time `json:"chartdate,omitempty" db:"chartdate"`
	ICDCode    string     `json:"icd_code" db:"icd_code"`
	ICDVersion int        `json:"icd_version" db:"icd_version"`
}

// Prescription is one row of hosp/prescriptions. A nil StopTime means the
// order is ongoing, not unknown.
type Prescription struct {
	SubjectID     int64      `json:"subject_id" db:"subject_id"`
	HadmID        int64      `json:"hadm_id" db:"hadm_id"`
	StartTime     *time.Time `json:"starttime,omitempty" db:"starttime"`
	StopTime      *time.Time `json:"stoptime,omitempty" db:"stoptime"`
	Drug          string     `json:"drug" db:"drug"`
	DoseValRx     *string    `json:"dose_val_rx,omitempty" db:"dose_val_rx"`
	DoseUnitRx    *string    `json:"dose_unit_rx,omitempty" db:"dose_unit_rx"`
	Route         *string    `json:"route,omitempty" db:"route"`
	FormRx        *string    `json:"form_rx,omitempty" db:"form_rx"`
	DosesPer24Hrs *float64   `json:"doses_per_24_hrs,omitempty" db:"doses_per_24_hrs"`
}

// LabEvent is one row of hosp/labevents. HadmID is nullable: many lab rows
// carry no admission linkage and are dropped at indexing time.
type LabEvent struct {
	LabEventID    int64      `json:"labevent_id" db:"labevent_id"`
	SubjectID     int64      `json:"subject_id" db:"subject_id"`
	HadmID        *int64     `json:"hadm_id,omitempty" db:"hadm_id"`
	ItemID        int64      `json:"itemid" db:"itemid"`
	ChartTime     *time.Time `json:"charttime,omitempty" db:"charttime"`
	Value         *string    `json:"value,omitempty" db:"value"`
	ValueNum      *float64   `json:"valuenum,omitempty" db:"valuenum"`
	ValueUOM      *string    `json:"valueuom,omitempty" db:"valueuom"`
	RefRangeLower *float64   `json:"ref_range_lower,omitempty" db:"ref_range_lower"`
	RefRangeUpper *float64   `json:"ref_range_upper,omitempty" db:"ref_range_upper"`
	Flag          *string    `json:"flag,omitempty" db:"flag"`
	Priority      *string    `json:"priority,omitempty" db:"priority"`
	Comments      *string    `json:"comments,omitempty" db:"comments"`
}

// MicrobiologyEvent is one row of hosp/microbiologyevents.
type MicrobiologyEvent struct {
	MicroEventID   int64      `json:"microevent_id" db:"microevent_id"`
	SubjectID      int64      `json:"subject_id" db:"subject_id"`
	HadmID         *int64     `json:"hadm_id,omitempty" db:"hadm_id"`
	ChartTime      *time.Time `json:"charttime,omitempty" db:"charttime"`
	SpecTypeDesc   *string    `json:"spec_type_desc,omitempty" db:"spec_type_desc"`
	TestName       *string    `json:"test_name,omitempty" db:"test_name"`
	OrgName        *string    `json:"org_name,omitempty" db:"org_name"`
	Interpretation *string    `json:"interpretation,omitempty" db:"interpretation"`
	Comments       *string    `json:"comments,omitempty" db:"comments"`
}

// ICUStay is one row of icu/icustays.
type ICUStay struct {
	SubjectID     int64      `json:"subject_id" db:"subject_id"`
	HadmID        int64      `json:"hadm_id" db:"hadm_id"`
	StayID        int64      `json:"stay_id" db:"stay_id"`
	FirstCareUnit *string    `json:"first_careunit,omitempty" db:"first_careunit"`
	LastCareUnit  *string    `json:"last_careunit,omitempty" db:"last_careunit"`
	InTime        *time.Time `json:"intime,omitempty" db:"intime"`
	OutTime       *time.Time `json:"outtime,omitempty" db:"outtime"`
	LOS           *float64   `json:"los,omitempty" db:"los"`
}

// ChartEvent is one row of icu/chartevents, used as ICU vital-sign data.
type ChartEvent struct {
	StayID    int64      `json:"stay_id" db:"stay_id"`
	ItemID    int64      `json:"itemid" db:"itemid"`
	ChartTime *time.Time `json:"charttime,omitempty" db:"charttime"`
	ValueNum  *float64   `json:"valuenum,omitempty" db:"valuenum"`
	ValueUOM  *string    `json:"valueuom,omitempty" db:"valueuom"`
}

// InputEvent is one row of icu/inputevents (medication infusions).
type InputEvent struct {
	StayID     int64      `json:"stay_id" db:"stay_id"`
	ItemID     int64      `json:"itemid" db:"itemid"`
	StartTime  *time.Time `json:"starttime,omitempty" db:"starttime"`
	EndTime    *time.Time `json:"endtime,omitempty" db:"endtime"`
	Amount     *float64   `json:"amount,omitempty" db:"amount"`
	AmountUOM  *string    `json:"amountuom,omitempty" db:"amountuom"`
	OrderCatID *string    `json:"ordercategoryname,omitempty" db:"ordercategoryname"`
}

// OutputEvent is one row of icu/outputevents.
type OutputEvent struct {
	StayID    int64      `json:"stay_id" db:"stay_id"`
	ItemID    int64      `json:"itemid" db:"itemid"`
	ChartTime *time.Time `json:"charttime,omitempty" db:"charttime"`
	Value     *float64   `json:"value,omitempty" db:"value"`
	ValueUOM  *string    `json:"valueuom,omitempty" db:"valueuom"`
}

// ProcedureEvent is one row of icu/procedureevents.
type ProcedureEvent struct {
	StayID    int64      `json:"stay_id" db:"stay_id"`
	ItemID    int64      `json:"itemid" db:"itemid"`
	StartTime *time.Time `json:"starttime,omitempty" db:"starttime"`
	EndTime   *time.Time `json:"endtime,omitempty" db:"endtime"`
	Value     *float64   `json:"value,omitempty" db:"value"`
	ValueUOM  *string    `json:"valueuom,omitempty" db:"valueuom"`
}

// TimeSeriesState distinguishes "not computed because the working set was
// too large" from "loaded, possibly empty" for ICU time-series data.
type TimeSeriesState int

const (
	TimeSeriesNotComputed TimeSeriesState = iota
	TimeSeriesLoaded
)

// ICUStayRecord is an ICU stay plus its time-series tables. The time series
// are populated lazily and only when the admission working set is small;
// otherwise State stays TimeSeriesNotComputed and the slices are nil.
type ICUStayRecord struct {
	ICUStay
	State           TimeSeriesState  `json:"time_series_state"`
	VitalSigns      []ChartEvent     `json:"vital_signs,omitempty"`
	Infusions       []InputEvent     `json:"infusions,omitempty"`
	Outputs         []OutputEvent    `json:"outputs,omitempty"`
	ProcedureEvents []ProcedureEvent `json:"procedure_events,omitempty"`
}

// AdmissionRecord is one hospital admission with every table joined to it.
type AdmissionRecord struct {
	Admission
	Diagnoses     []Diagnosis         `json:"diagnoses"`
	Procedures    []Procedure         `json:"procedures"`
	Prescriptions []Prescription      `json:"prescriptions,omitempty"`
	LabEvents     []LabEvent          `json:"lab_events,omitempty"`
	Microbiology  []MicrobiologyEvent `json:"microbiology,omitempty"`
	ICUStays      []*ICUStayRecord    `json:"icu_stays"`
}

// PatientRecord is the full hierarchical view of one patient.
type PatientRecord struct {
	Patient
	Admissions []*AdmissionRecord `json:"admissions"`
}
