// Package medmatch matches free-text prescription drug names against an
// external drug-name reference catalog for visual enrichment.
package medmatch

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mdplus/chartsum/cmd/chartsum/contract"
)

// Medication is one catalog entry.
type Medication struct {
	GenericName         string   `json:"generic_name"`
	BrandNames          []string `json:"brand_names"`
	Aliases             []string `json:"aliases"`
	PhysicalDescription *string  `json:"physical_description,omitempty"`
	ImagePath           *string  `json:"image_path,omitempty"`
}

// Catalog is the external drug-name reference catalog.
type Catalog struct {
	Medications []Medication `json:"medications"`
}

// LoadCatalog reads a catalog file. A missing file returns (nil, nil): the
// enrichment feature degrades rather than failing the load.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading medication catalog %s: %w", path, err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing medication catalog %s: %w", path, err)
	}
	return &c, nil
}

var (
	parenthetical = regexp.MustCompile(`\(([^)]*)\)`)
	nonGeneric    = regexp.MustCompile(`[^a-z0-9-]`)
)

// NormalizeDrugName lower-cases a prescription drug name, extracts a
// parenthetical brand name if present, and strips punctuation and spaces
// from the generic part.
func NormalizeDrugName(name string) (generic, brand string) {
	name = strings.ToLower(name)
	if m := parenthetical.FindStringSubmatch(name); m != nil {
		brand = m[1]
	}
	generic = parenthetical.ReplaceAllString(name, "")
	generic = nonGeneric.ReplaceAllString(strings.TrimSpace(generic), "")
	return generic, brand
}

// catalogKey normalizes a catalog-side name for comparison.
func catalogKey(name string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.ToLower(name))
}

// Find matches a prescription drug name against the catalog. Matching is
// exact on the normalized generic name, brand names, then aliases. Exact
// matching is deliberate: substring matching produces false positives
// between distinct compounds sharing a common root, e.g. sodium chloride
// versus potassium chloride.
func (c *Catalog) Find(drugName string) *Medication {
	if c == nil {
		return nil
	}
	generic, brand := NormalizeDrugName(drugName)
	brandKey := catalogKey(brand)

	for i := range c.Medications {
		med := &c.Medications[i]
		if generic != "" && generic == catalogKey(med.GenericName) {
			return med
		}
		if brandKey != "" {
			for _, b := range med.BrandNames {
				if brandKey == catalogKey(b) {
					return med
				}
			}
		}
		for _, alias := range med.Aliases {
			if generic != "" && generic == catalogKey(alias) {
				return med
			}
		}
	}
	return nil
}

// EnrichedMedication is a contract medication entry plus visual catalog
// data when a match was found.
type EnrichedMedication struct {
	contract.MedicationEntry
	PhysicalDescription *string `json:"physical_description,omitempty"`
	ImagePath           *string `json:"image_path,omitempty"`
}

// Enrich attaches visual information to medication entries. A nil catalog
// passes entries through unenriched.
func (c *Catalog) Enrich(meds []contract.MedicationEntry) []EnrichedMedication {
	out := make([]EnrichedMedication, 0, len(meds))
	for _, med := range meds {
		enriched := EnrichedMedication{MedicationEntry: med}
		if match := c.Find(med.Drug); match != nil {
			enriched.PhysicalDescription = match.PhysicalDescription
			enriched.ImagePath = match.ImagePath
		}
		out = append(out, enriched)
	}
	return out
}
