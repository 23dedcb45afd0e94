package contract

import (
	"encoding/json"
	"fmt"
	"os"
)

// LabAllowlist restricts packaged lab entries to a configured set of test
// names before the contract is handed to the narrative collaborator.
type LabAllowlist map[string]struct{}

// LoadLabAllowlist reads an allowlist file of the form
// {"included_labs": ["Hemoglobin", ...]}. A missing file returns
// (nil, nil): a nil allowlist includes every lab.
func LoadLabAllowlist(path string) (LabAllowlist, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lab allowlist %s: %w", path, err)
	}

	var cfg struct {
		IncludedLabs []string `json:"included_labs"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing lab allowlist %s: %w", path, err)
	}

	allow := make(LabAllowlist, len(cfg.IncludedLabs))
	for _, name := range cfg.IncludedLabs {
		allow[name] = struct{}{}
	}
	return allow, nil
}

// Filter keeps only entries whose test name is in the allowlist. A nil
// allowlist keeps everything.
func (a LabAllowlist) Filter(entries []LabEntry) []LabEntry {
	if a == nil {
		return entries
	}
	kept := make([]LabEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := a[e.TestName]; ok {
			kept = append(kept, e)
		}
	}
	return kept
}
