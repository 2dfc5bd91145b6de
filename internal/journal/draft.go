package journal

import "encoding/json"

type draftOption struct {
	Content  string `json:"content"`
	IsAnswer bool   `json:"is_answer"`
	Sort     int    `json:"sort"`
}

type draftRecord struct {
	Description string        `json:"description"`
	Type        string        `json:"type"`
	Category    string        `json:"category"`
	Options     []draftOption `json:"options"`
}

// Draft renders entries as a flat bank file with every option marked
// incorrect. The operator marks the answers and adds the file to the bank.
// Entries with the same description are written once.
func Draft(entries []Entry) ([]byte, error) {
	seen := make(map[string]struct{}, len(entries))
	records := make([]draftRecord, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Description]; dup {
			continue
		}
		seen[e.Description] = struct{}{}
		rec := draftRecord{
			Description: e.Description,
			Type:        "single_selection",
			Category:    "journal",
			Options:     make([]draftOption, 0, len(e.Options)),
		}
		for i, o := range e.Options {
			rec.Options = append(rec.Options, draftOption{Content: o, Sort: i})
		}
		records = append(records, rec)
	}
	return json.MarshalIndent(records, "", "  ")
}
