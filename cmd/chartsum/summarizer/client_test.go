package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/cmd/chartsum/contract"
)

const narrativeJSON = `{
	"visit_summary": "You were admitted for chest pain.",
	"lab_results_summary": [
		{"test_name": "Creatinine", "significance": "Measures kidney function.", "abnormal_explanation": "Yours was above the normal range."}
	],
	"medication_purposes": {"Aspirin": "Prevents blood clots."},
	"frequently_asked_questions": [
		{"question": "When can I exercise?", "answer": "Ask your doctor at the follow-up visit."}
	]
}`

func TestParseNarrativeDirectJSON(t *testing.T) {
	n, err := ParseNarrative(narrativeJSON)
	if err != nil {
		t.Fatal(err)
	}
	if n.VisitSummary != "You were admitted for chest pain." {
		t.Errorf("visit summary = %q", n.VisitSummary)
	}
	if len(n.LabResultsSummary) != 1 || n.LabResultsSummary[0].TestName != "Creatinine" {
		t.Errorf("lab results summary = %+v", n.LabResultsSummary)
	}
	if n.MedicationPurposes["Aspirin"] == "" {
		t.Errorf("medication purposes = %+v", n.MedicationPurposes)
	}
	if len(n.FAQs) != 1 {
		t.Errorf("faqs = %+v", n.FAQs)
	}
}

func TestParseNarrativeFencedJSON(t *testing.T) {
	// Some backends wrap the reply in a markdown fence despite being asked
	// for bare JSON.
	content := "Here is the summary:\n```json\n" + narrativeJSON + "\n```\nLet me know if you need anything else."
	n, err := ParseNarrative(content)
	if err != nil {
		t.Fatal(err)
	}
	if n.VisitSummary == "" {
		t.Error("fenced narrative did not parse")
	}
}

func TestParseNarrativeMalformed(t *testing.T) {
	_, err := ParseNarrative("I'm sorry, I can't produce JSON today.")
	if err == nil {
		t.Fatal("malformed content should error")
	}
	// The raw payload rides along for postmortems.
	if !strings.Contains(err.Error(), "can't produce JSON") {
		t.Errorf("error should carry the raw payload: %v", err)
	}
}

func testClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  "test-key",
		model:   "sonar",
		http:    http.DefaultClient,
		log:     zerolog.Nop(),
	}
}

func testSummary() *contract.AdmissionSummary {
	return &contract.AdmissionSummary{
		HadmID:               1001,
		Timeline:             []contract.TimelineEntry{},
		LabResults:           []contract.LabEntry{},
		DischargeMedications: []contract.MedicationEntry{},
	}
}

func TestSummarize(t *testing.T) {
	var gotAuth, gotRequestID string
	var gotReq chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": narrativeJSON}},
			},
			"citations": []string{"https://medlineplus.gov/"},
		})
	}))
	defer server.Close()

	n, err := testClient(server.URL).Summarize(context.Background(), testSummary(), DetailEnhanced)
	if err != nil {
		t.Fatal(err)
	}
	if n.VisitSummary == "" {
		t.Error("empty visit summary")
	}
	if len(n.Citations) != 1 {
		t.Errorf("citations = %v", n.Citations)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Error("request id header missing")
	}
	if gotReq.Model != "sonar" || len(gotReq.Messages) != 3 {
		t.Errorf("request = %+v", gotReq)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "detail level 2") {
		t.Errorf("detail prompt = %q", gotReq.Messages[1].Content)
	}
	if !strings.Contains(gotReq.Messages[2].Content, `"hadm_id": 1001`) &&
		!strings.Contains(gotReq.Messages[2].Content, `"hadm_id":1001`) {
		t.Errorf("user message missing contract payload: %q", gotReq.Messages[2].Content)
	}
}

func TestSummarizeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer server.Close()

	if _, err := testClient(server.URL).Summarize(context.Background(), testSummary(), DetailBasic); err == nil {
		t.Error("non-2xx status should error")
	}
}

func TestSummarizeUnconfigured(t *testing.T) {
	c := testClient("")
	if c.Configured() {
		t.Error("client without base URL should report unconfigured")
	}
	if _, err := c.Summarize(context.Background(), testSummary(), DetailBasic); err == nil {
		t.Error("unconfigured client should refuse to summarize")
	}
}

func TestSummarizeInvalidDetailLevel(t *testing.T) {
	if _, err := testClient("http://localhost").Summarize(context.Background(), testSummary(), DetailLevel(4)); err == nil {
		t.Error("invalid detail level should error")
	}
}

func TestDetailLevelValid(t *testing.T) {
	for level, want := range map[DetailLevel]bool{0: false, 1: true, 2: true, 3: true, 4: false} {
		if got := level.Valid(); got != want {
			t.Errorf("DetailLevel(%d).Valid() = %v, want %v", level, got, want)
		}
	}
}
