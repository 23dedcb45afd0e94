package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/cmd/chartsum/contract"
	"github.com/mdplus/chartsum/cmd/chartsum/dataset"
	"github.com/mdplus/chartsum/cmd/chartsum/extract"
	"github.com/mdplus/chartsum/cmd/chartsum/medmatch"
	"github.com/mdplus/chartsum/cmd/chartsum/summarizer"
)

// Router serves the loaded dataset over HTTP. Every handler works from the
// immutable dataset service, so requests are independent and a failing
// request never poisons the next one.
type Router struct {
	data    *dataset.Service
	llm     *summarizer.Client
	catalog *medmatch.Catalog
	allow   contract.LabAllowlist
	log     zerolog.Logger
}

func NewRouter(
	data *dataset.Service,
	llm *summarizer.Client,
	catalog *medmatch.Catalog,
	allow contract.LabAllowlist,
	log zerolog.Logger,
) *Router {
	return &Router{
		data:    data,
		llm:     llm,
		catalog: catalog,
		allow:   allow,
		log:     log,
	}
}

func (rt *Router) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/subjects", rt.handleSubjects)
		r.Get("/patients/{subjectID}", rt.handlePatient)
		r.Route("/admissions/{hadmID}", func(r chi.Router) {
			r.Get("/summary", rt.handleSummary)
			r.Get("/medications", rt.handleMedications)
			r.Get("/narrative", rt.handleNarrative)
		})
	})
	r.Handle("/metrics", metricsHandler())

	return r
}

func (rt *Router) handleSubjects(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"subject_ids": rt.data.AllSubjectIDs(),
		"count":       rt.data.Len(),
	})
}

func (rt *Router) handlePatient(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "subjectID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "subject id must be an integer")
		return
	}

	rec, ok := rt.data.Patient(subjectID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "unknown subject id")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, status, errMsg := rt.buildSummary(r)
	if summary == nil {
		recordSummary("error")
		respondWithError(w, status, errMsg)
		return
	}

	recordSummary("ok")
	respondWithJSON(w, http.StatusOK, summary)
}

func (rt *Router) handleMedications(w http.ResponseWriter, r *http.Request) {
	summary, status, errMsg := rt.buildSummary(r)
	if summary == nil {
		respondWithError(w, status, errMsg)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"hadm_id":     summary.HadmID,
		"medications": rt.catalog.Enrich(summary.DischargeMedications),
	})
}

func (rt *Router) handleNarrative(w http.ResponseWriter, r *http.Request) {
	detail := summarizer.DetailBasic
	if raw := r.URL.Query().Get("detail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !summarizer.DetailLevel(n).Valid() {
			respondWithError(w, http.StatusBadRequest, "detail must be 1, 2 or 3")
			return
		}
		detail = summarizer.DetailLevel(n)
	}
	detailLabel := strconv.Itoa(int(detail))

	if !rt.llm.Configured() {
		respondWithError(w, http.StatusServiceUnavailable, "narrative backend is not configured")
		return
	}

	summary, status, errMsg := rt.buildSummary(r)
	if summary == nil {
		recordNarrative(detailLabel, "error", 0)
		respondWithError(w, status, errMsg)
		return
	}

	start := time.Now()
	narrative, err := rt.llm.Summarize(r.Context(), summary, detail)
	if err != nil {
		rt.log.Error().Err(err).Int64("hadm_id", summary.HadmID).Msg("Narrative generation failed")
		recordNarrative(detailLabel, "error", 0)
		respondWithError(w, http.StatusBadGateway, "narrative generation failed")
		return
	}
	recordNarrative(detailLabel, "ok", time.Since(start))

	respondWithJSON(w, http.StatusOK, map[string]any{
		"hadm_id":   summary.HadmID,
		"detail":    int(detail),
		"narrative": narrative,
	})
}

// buildSummary resolves the admission from the URL and packages it. A nil
// summary comes with the HTTP status and message to report.
func (rt *Router) buildSummary(r *http.Request) (*contract.AdmissionSummary, int, string) {
	hadmID, err := strconv.ParseInt(chi.URLParam(r, "hadmID"), 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, "admission id must be an integer"
	}

	adm, ok := rt.data.Admission(hadmID)
	if !ok {
		return nil, http.StatusNotFound, "unknown admission id"
	}

	timeline := extract.BuildTimeline(adm, rt.data.DiagnosisDictionary(), rt.data.ProcedureDictionary(), rt.data.LabItemDictionary())
	labs := extract.SummarizeLabs(adm, rt.data.LabItemDictionary(), rt.log)
	meds := extract.DischargeMedications(adm)

	summary := contract.BuildAdmissionSummary(adm, timeline, labs, meds)
	summary.LabResults = rt.allow.Filter(summary.LabResults)
	return summary, http.StatusOK, ""
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
