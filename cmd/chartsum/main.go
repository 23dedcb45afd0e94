package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/cmd/chartsum/api"
	"github.com/mdplus/chartsum/cmd/chartsum/contract"
	"github.com/mdplus/chartsum/cmd/chartsum/dataset"
	"github.com/mdplus/chartsum/cmd/chartsum/extract"
	"github.com/mdplus/chartsum/cmd/chartsum/medmatch"
	"github.com/mdplus/chartsum/cmd/chartsum/summarizer"
)

func main() {
	startTime := time.Now()
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).With().Timestamp().Caller().Logger()

	if err := godotenv.Load(".env"); err != nil {
		log.Debug().Msg("No .env file found, relying on process environment")
	}

	var (
		dataDir        = flag.String("data", "", "dataset root: a directory with hosp/ and icu/ subdirectories, or a postgres:// connection string")
		maxPatients    = flag.Int("max-patients", 0, "cap on the number of patients loaded (0 = no cap)")
		admissionTypes = flag.String("admission-type", "", "comma-separated admission types to keep (empty = all)")
		diagnosis      = flag.String("diagnosis", "", "comma-separated diagnosis codes to keep; a single value is tried as a regular expression first")
		exhaustive     = flag.Bool("exhaustive-labs", false, "always scan the full lab events table, disabling the small-working-set early exit")
		hadmID         = flag.Int64("hadm", 0, "emit the packaged summary for one admission id")
		narrative      = flag.Bool("narrative", false, "also generate a patient-friendly narrative for -hadm")
		detail         = flag.Int("detail", 1, "narrative detail level: 1, 2 or 3")
		outPath        = flag.String("out", "", "write output JSON to this file instead of stdout")
		labsFilter     = flag.String("labs-filter", "", "path to a lab allowlist JSON file")
		medsCatalog    = flag.String("meds-catalog", "", "path to a medication reference catalog JSON file")
		serve          = flag.Bool("serve", false, "serve the dataset over HTTP instead of emitting JSON")
		addr           = flag.String("addr", ":8080", "listen address for -serve")
	)
	flag.Parse()

	if *dataDir == "" {
		log.Fatal().Msg("-data is required")
	}

	cfg := dataset.Config{
		DataDir:           *dataDir,
		MaxPatients:       *maxPatients,
		AdmissionTypes:    splitList(*admissionTypes),
		DiagnosisFilter:   splitList(*diagnosis),
		ExhaustiveLabLoad: *exhaustive,
	}

	data, err := dataset.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}
	log.Info().Int("patients", data.Len()).Dur("elapsed", time.Since(startTime)).Msg("Dataset loaded")

	allow, err := contract.LoadLabAllowlist(*labsFilter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load lab allowlist")
	}
	catalog, err := medmatch.LoadCatalog(*medsCatalog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load medication catalog")
	}
	llm := summarizer.NewClient(log)

	if *serve {
		router := api.NewRouter(data, llm, catalog, allow, log)
		log.Info().Str("addr", *addr).Msg("Listening")
		if err := http.ListenAndServe(*addr, router.SetupRoutes()); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
		return
	}

	if *hadmID == 0 {
		emit(log, *outPath, map[string]any{"subject_ids": data.AllSubjectIDs()})
		return
	}

	adm, ok := data.Admission(*hadmID)
	if !ok {
		log.Fatal().Int64("hadm_id", *hadmID).Msg("Admission not found in the filtered dataset")
	}

	timeline := extract.BuildTimeline(adm, data.DiagnosisDictionary(), data.ProcedureDictionary(), data.LabItemDictionary())
	labs := extract.SummarizeLabs(adm, data.LabItemDictionary(), log)
	meds := extract.DischargeMedications(adm)

	summary := contract.BuildAdmissionSummary(adm, timeline, labs, meds)
	summary.LabResults = allow.Filter(summary.LabResults)

	if !*narrative {
		emit(log, *outPath, summary)
		return
	}

	level := summarizer.DetailLevel(*detail)
	if !level.Valid() {
		log.Fatal().Int("detail", *detail).Msg("Detail level must be 1, 2 or 3")
	}
	if !llm.Configured() {
		log.Fatal().Msg("Narrative backend is not configured, set CHARTSUM_LLM_URL and CHARTSUM_LLM_KEY")
	}

	story, err := llm.Summarize(context.Background(), summary, level)
	if err != nil {
		log.Fatal().Err(err).Msg("Narrative generation failed")
	}
	emit(log, *outPath, map[string]any{
		"summary":     summary,
		"medications": catalog.Enrich(summary.DischargeMedications),
		"narrative":   story,
	})

	log.Debug().Msgf("Execution time: %s", time.Since(startTime))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func emit(log zerolog.Logger, path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal output")
	}
	if path == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output file")
	}
	log.Info().Str("path", path).Msg("Output written")
}
