package mimic

import "fmt"

// ICDKey identifies a code within one ICD revision.
type ICDKey struct {
	Code    string
	Version int
}

// ICDDictionary maps ICD codes to their long titles. Used for both the
// diagnosis and the procedure dictionaries.
type ICDDictionary map[ICDKey]string

// Describe resolves a code to its long title, falling back to a
// "ICD-version: code" string when the dictionary has no entry (or is nil
// because the dictionary file was absent).
func (d ICDDictionary) Describe(code string, version int) string {
	if d != nil {
		if title, ok := d[ICDKey{Code: code, Version: version}]; ok {
			return title
		}
	}
	return fmt.Sprintf("ICD-%d: %s", version, code)
}

// LabItem is one row of hosp/d_labitems.
type LabItem struct {
	ItemID   int64   `json:"itemid" db:"itemid"`
	Label    *string `json:"label,omitempty" db:"label"`
	Fluid    *string `json:"fluid,omitempty" db:"fluid"`
	Category *string `json:"category,omitempty" db:"category"`
}

// LabItemDictionary maps lab item ids to their dictionary rows.
type LabItemDictionary map[int64]LabItem
