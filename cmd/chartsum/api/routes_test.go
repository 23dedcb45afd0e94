package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/cmd/chartsum/dataset"
	"github.com/mdplus/chartsum/cmd/chartsum/summarizer"
)

func writeTable(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, name+".csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	hosp := filepath.Join(root, "hosp")
	icu := filepath.Join(root, "icu")
	for _, dir := range []string{hosp, icu} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	writeTable(t, hosp, "patients",
		"subject_id,gender,anchor_age",
		"101,F,52",
	)
	writeTable(t, hosp, "admissions",
		"subject_id,hadm_id,admittime,dischtime,admission_type,admission_location,discharge_location",
		"101,1001,2150-03-01 08:00:00,2150-03-10 14:00:00,EW EMER.,EMERGENCY ROOM,HOME",
	)
	writeTable(t, hosp, "diagnoses_icd",
		"subject_id,hadm_id,seq_num,icd_code,icd_version",
		"101,1001,1,I10,10",
	)
	writeTable(t, hosp, "procedures_icd",
		"subject_id,hadm_id,seq_num,chartdate,icd_code,icd_version",
	)
	writeTable(t, hosp, "prescriptions",
		"subject_id,hadm_id,starttime,stoptime,drug,dose_val_rx,dose_unit_rx,route,doses_per_24_hrs",
		"101,1001,2150-03-01 10:00:00,,Aspirin,81,mg,PO,1",
	)
	writeTable(t, hosp, "labevents",
		"labevent_id,subject_id,hadm_id,itemid,charttime,value,valuenum,valueuom,ref_range_lower,ref_range_upper,flag",
		"1,101,1001,50912,2150-03-02 06:00:00,5.2,5.2,mg/dL,1.0,4.0,H",
	)

	svc, err := dataset.New(dataset.Config{DataDir: root}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	router := NewRouter(svc, summarizer.NewClient(zerolog.Nop()), nil, nil, zerolog.Nop())
	server := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSubjectsEndpoint(t *testing.T) {
	server := testServer(t)

	var body struct {
		SubjectIDs []int64 `json:"subject_ids"`
		Count      int     `json:"count"`
	}
	getJSON(t, server.URL+"/v1/subjects", http.StatusOK, &body)
	if body.Count != 1 || len(body.SubjectIDs) != 1 || body.SubjectIDs[0] != 101 {
		t.Errorf("subjects = %+v", body)
	}
}

func TestPatientEndpoint(t *testing.T) {
	server := testServer(t)

	var body struct {
		SubjectID  int64 `json:"subject_id"`
		Admissions []struct {
			HadmID int64 `json:"hadm_id"`
		} `json:"admissions"`
	}
	getJSON(t, server.URL+"/v1/patients/101", http.StatusOK, &body)
	if body.SubjectID != 101 || len(body.Admissions) != 1 || body.Admissions[0].HadmID != 1001 {
		t.Errorf("patient = %+v", body)
	}

	getJSON(t, server.URL+"/v1/patients/999", http.StatusNotFound, nil)
	getJSON(t, server.URL+"/v1/patients/abc", http.StatusBadRequest, nil)
}

func TestSummaryEndpoint(t *testing.T) {
	server := testServer(t)

	var body struct {
		HadmID     int64 `json:"hadm_id"`
		LabResults []struct {
			Status         string  `json:"status"`
			ReferenceRange *string `json:"reference_range"`
		} `json:"lab_results"`
		Timeline []struct {
			Category string `json:"category"`
		} `json:"timeline"`
	}
	getJSON(t, server.URL+"/v1/admissions/1001/summary", http.StatusOK, &body)
	if body.HadmID != 1001 {
		t.Errorf("hadm_id = %d", body.HadmID)
	}
	if len(body.LabResults) != 1 {
		t.Fatalf("lab results = %+v", body.LabResults)
	}
	if body.LabResults[0].Status != "abnormal" {
		t.Errorf("status = %q, want abnormal", body.LabResults[0].Status)
	}
	if body.LabResults[0].ReferenceRange == nil || *body.LabResults[0].ReferenceRange != "1.0-4.0" {
		t.Errorf("reference range = %v", body.LabResults[0].ReferenceRange)
	}
	if len(body.Timeline) == 0 {
		t.Error("timeline is empty")
	}

	getJSON(t, server.URL+"/v1/admissions/424242/summary", http.StatusNotFound, nil)
}

func TestMedicationsEndpoint(t *testing.T) {
	server := testServer(t)

	var body struct {
		Medications []struct {
			Drug      string `json:"drug"`
			IsOngoing bool   `json:"is_ongoing"`
		} `json:"medications"`
	}
	getJSON(t, server.URL+"/v1/admissions/1001/medications", http.StatusOK, &body)
	if len(body.Medications) != 1 || body.Medications[0].Drug != "Aspirin" || !body.Medications[0].IsOngoing {
		t.Errorf("medications = %+v", body)
	}
}

func TestNarrativeEndpointUnconfigured(t *testing.T) {
	t.Setenv("CHARTSUM_LLM_URL", "")
	server := testServer(t)
	// No narrative backend configured in tests: the endpoint must refuse the
	// work up front instead of timing out downstream.
	getJSON(t, server.URL+"/v1/admissions/1001/narrative", http.StatusServiceUnavailable, nil)
	getJSON(t, server.URL+"/v1/admissions/1001/narrative?detail=9", http.StatusBadRequest, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	server := testServer(t)
	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
