package ingest

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/normalize"
)

// InterestColumns names the interest file headers.
type InterestColumns struct {
	ID          string
	Category    string
	Subcategory string
	Level       string
}

// LoadInterests reads the interest file and returns "Category: Subcategory
// (Level)" labels per constituent ID, in file order. Subcategory and level
// are omitted when blank.
func LoadInterests(path string, cols InterestColumns) (map[string][]string, error) {
	rows, err := ReadRows(path, "")
	if err != nil {
		return nil, err
	}
	return ParseInterests(rows, cols)
}

// ParseInterests maps interest rows (header first) by constituent ID.
func ParseInterests(rows [][]string, cols InterestColumns) (map[string][]string, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: interest file is empty")
	}
	h := newHeader(rows[0])
	if _, ok := h.col(cols.ID); !ok {
		return nil, eris.Errorf("ingest: interest file has no %q column", cols.ID)
	}
	if _, ok := h.col(cols.Category); !ok {
		return nil, eris.Errorf("ingest: interest file has no %q column", cols.Category)
	}

	out := make(map[string][]string)
	for _, row := range rows[1:] {
		id := h.get(row, cols.ID)
		cat := normalize.Label(h.get(row, cols.Category))
		if id == "" || cat == "" {
			continue
		}
		label := cat
		if sub := normalize.Label(h.get(row, cols.Subcategory)); sub != "" {
			label = cat + ": " + sub
		}
		if level := normalize.Label(h.get(row, cols.Level)); level != "" {
			label += " (" + level + ")"
		}
		if !slices.Contains(out[id], label) {
			out[id] = append(out[id], label)
		}
	}
	return out, nil
}

// ApplyInterests attaches interests to records by ID. Records without an ID
// cannot be joined and are left unchanged.
func ApplyInterests(records []model.Record, interests map[string][]string) int {
	var joined int
	for i := range records {
		id := strings.TrimSpace(records[i].ID)
		labels, ok := interests[id]
		if id == "" || !ok {
			continue
		}
		for _, l := range labels {
			if !slices.Contains(records[i].Interests, l) {
				records[i].Interests = append(records[i].Interests, l)
			}
		}
		joined++
	}
	return joined
}
