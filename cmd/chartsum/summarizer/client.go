// Package summarizer calls the external narrative-generation service with
// the admission contract and parses its structured reply.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/cmd/chartsum/contract"
)

// DetailLevel selects how much explanatory depth the narrative carries.
type DetailLevel int

const (
	DetailBasic    DetailLevel = 1 // 8th-grade competency
	DetailEnhanced DetailLevel = 2
	DetailLearner  DetailLevel = 3 // college-course depth
)

// Valid reports whether the level is one of the three defined levels.
func (d DetailLevel) Valid() bool {
	return d >= DetailBasic && d <= DetailLearner
}

// QA is one question/answer pair in the narrative.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// LabExplanation explains one lab test in patient-facing language.
type LabExplanation struct {
	TestName            string `json:"test_name"`
	Significance        string `json:"significance"`
	AbnormalExplanation string `json:"abnormal_explanation,omitempty"`
}

// Narrative is the structured patient-facing summary returned by the
// collaborator.
type Narrative struct {
	VisitSummary       string            `json:"visit_summary"`
	LabResultsSummary  []LabExplanation  `json:"lab_results_summary"`
	MedicationPurposes map[string]string `json:"medication_purposes"`
	FAQs               []QA              `json:"frequently_asked_questions"`

	Citations     []string       `json:"-"`
	SearchResults []SearchResult `json:"-"`
}

// SearchResult is one source the backend consulted, passed through for
// attribution.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a client from the environment: CHARTSUM_LLM_URL,
// CHARTSUM_LLM_KEY and CHARTSUM_LLM_MODEL (default "sonar").
func NewClient(log zerolog.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{Timeout: 300 * time.Second}

	model := os.Getenv("CHARTSUM_LLM_MODEL")
	if model == "" {
		model = "sonar"
	}

	return &Client{
		baseURL: os.Getenv("CHARTSUM_LLM_URL"),
		apiKey:  os.Getenv("CHARTSUM_LLM_KEY"),
		model:   model,
		http:    retryClient.StandardClient(),
		log:     log,
	}
}

// Configured reports whether an endpoint is set; an unconfigured client
// disables the narrative feature rather than failing requests later.
func (c *Client) Configured() bool { return c.baseURL != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations     []string       `json:"citations"`
	SearchResults []SearchResult `json:"search_results"`
}

// Summarize posts the admission contract with the requested detail level
// and returns the parsed narrative.
func (c *Client) Summarize(ctx context.Context, summary *contract.AdmissionSummary, level DetailLevel) (*Narrative, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("narrative service is not configured")
	}
	if !level.Valid() {
		return nil, fmt.Errorf("invalid detail level %d", level)
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding admission summary: %w", err)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "system", Content: detailPrompt(level)},
			{Role: "user", Content: fmt.Sprintf("Please summarize this patient data:\n\n%s", payload)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	requestID := uuid.NewString()
	c.log.Info().
		Str("request_id", requestID).
		Int64("hadm_id", summary.HadmID).
		Int("detail_level", int(level)).
		Int("payload_bytes", len(payload)).
		Msg("Requesting narrative summary")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("narrative request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading narrative response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("narrative service returned status %d: %s", resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing narrative envelope: %w\nbody: %s", err, body)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("narrative response has no choices: %s", body)
	}

	narrative, err := ParseNarrative(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	narrative.Citations = parsed.Citations
	narrative.SearchResults = parsed.SearchResults
	return narrative, nil
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*\\})\\s*```")

// ParseNarrative parses the assistant content into a Narrative. Content
// wrapped in a markdown code fence is unwrapped and retried before the
// parse is surfaced as a failure; the raw payload rides along on the error
// for postmortem inspection.
func ParseNarrative(content string) (*Narrative, error) {
	var n Narrative
	if err := json.Unmarshal([]byte(content), &n); err == nil {
		return &n, nil
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &n); err == nil {
			return &n, nil
		}
	}
	return nil, fmt.Errorf("narrative service returned malformed JSON; raw payload: %s", content)
}
