// Package ingest turns a donor/affiliate export into validated, typed records.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/normalize"
)

// Columns names the export headers mapped onto record fields. Header
// matching ignores case and repeated whitespace.
type Columns struct {
	ID             string
	Name           string
	FirstName      string
	LastName       string
	Street         string
	City           string
	State          string
	PostalCode     string
	Country        string
	Affiliation    string
	ISRRecognition string
	UMRecognition  string
}

// Options configures Parse.
type Options struct {
	Columns Columns
	// AffiliationSeps split the affiliation cell. Default newline and comma.
	AffiliationSeps []string
}

// InputFormatError describes a row that cannot become a record.
type InputFormatError struct {
	Row    int
	Reason string
}

func (e *InputFormatError) Error() string {
	return fmt.Sprintf("ingest: row %d: %s", e.Row, e.Reason)
}

// Result is the outcome of parsing an export.
type Result struct {
	Records []model.Record
	Skipped []*InputFormatError
	// BatchID identifies the export by content.
	BatchID string
}

// Donor status values derived from the recognition columns.
const (
	DonorStatusAttr = "donor_status"
	// ISRAmountAttr and UMAmountAttr hold the recognition amounts as plain
	// numbers ("$1,500" becomes "1500"; empty becomes "0").
	ISRAmountAttr = "isr_recognition_amount"
	UMAmountAttr  = "um_recognition_amount"

	ISRDonor        = "ISR Donor"
	UMDonor         = "UM Donor"
	NonDonor        = "Non Donor"
)

// Load reads and parses the export at path.
func Load(path, sheet string, opts Options) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read export")
	}
	rows, err := ReadRows(path, sheet)
	if err != nil {
		return nil, err
	}
	res, err := Parse(rows, opts)
	if err != nil {
		return nil, err
	}
	res.BatchID = BatchID(raw)
	return res, nil
}

// BatchID returns the first 12 hex characters of the SHA-256 of the export.
func BatchID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:12]
}

// headerKey is the comparison form of a header cell.
func headerKey(h string) string {
	return strings.ToLower(normalize.Label(h))
}

// header indexes column positions by headerKey.
type header struct {
	idx    map[string]int
	labels []string
}

func newHeader(row []string) header {
	h := header{idx: make(map[string]int, len(row)), labels: make([]string, len(row))}
	for i, cell := range row {
		h.labels[i] = normalize.Label(cell)
		k := headerKey(cell)
		if k == "" {
			continue
		}
		if _, dup := h.idx[k]; dup {
			zap.L().Debug("ingest: duplicate header ignored", zap.String("header", h.labels[i]), zap.Int("column", i+1))
			continue
		}
		h.idx[k] = i
	}
	return h
}

func (h header) col(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	i, ok := h.idx[headerKey(name)]
	return i, ok
}

func (h header) get(row []string, name string) string {
	i, ok := h.col(name)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Parse maps rows (header first) to records. A header without a name column
// is a file-level error; rows with neither a name nor an address are skipped
// and reported.
func Parse(rows [][]string, opts Options) (*Result, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: export is empty")
	}
	cols := opts.Columns
	seps := opts.AffiliationSeps
	if len(seps) == 0 {
		seps = []string{"\n", ","}
	}

	h := newHeader(rows[0])
	_, hasName := h.col(cols.Name)
	_, hasFirst := h.col(cols.FirstName)
	_, hasLast := h.col(cols.LastName)
	if !hasName && !hasFirst && !hasLast {
		return nil, eris.Errorf("ingest: header has no %q column", cols.Name)
	}

	mapped := make(map[int]bool)
	for _, name := range []string{
		cols.ID, cols.Name, cols.FirstName, cols.LastName, cols.Street, cols.City,
		cols.State, cols.PostalCode, cols.Country, cols.Affiliation,
	} {
		if i, ok := h.col(name); ok {
			mapped[i] = true
		}
	}

	res := &Result{}
	for n, row := range rows[1:] {
		rowNum := n + 2 // 1-based, after the header
		if blank(row) {
			continue
		}

		r := model.Record{
			ID:         h.get(row, cols.ID),
			Name:       h.get(row, cols.Name),
			Street:     h.get(row, cols.Street),
			City:       h.get(row, cols.City),
			State:      h.get(row, cols.State),
			PostalCode: h.get(row, cols.PostalCode),
			Country:    h.get(row, cols.Country),
			Row:        rowNum,
		}
		if r.Name == "" {
			r.Name = normalize.Label(h.get(row, cols.FirstName) + " " + h.get(row, cols.LastName))
		}

		if r.Name == "" && !r.HasAddress() {
			e := &InputFormatError{Row: rowNum, Reason: "missing both name and address"}
			zap.L().Warn("ingest: skipping row", zap.Int("row", rowNum), zap.String("reason", e.Reason))
			res.Skipped = append(res.Skipped, e)
			continue
		}

		r.Affiliations = SplitAffiliations(h.get(row, cols.Affiliation), seps)
		r.Attributes = attributes(h, row, mapped)
		if status := donorStatus(h, row, cols); status != "" {
			if r.Attributes == nil {
				r.Attributes = make(map[string]string)
			}
			r.Attributes[DonorStatusAttr] = status
		}
		for attr, amount := range recognitionAmounts(h, row, cols, rowNum) {
			if r.Attributes == nil {
				r.Attributes = make(map[string]string)
			}
			r.Attributes[attr] = amount
		}
		r.Geocode.MarkStale("")

		res.Records = append(res.Records, r)
	}
	return res, nil
}

// SplitAffiliations splits an affiliation cell into an ordered, de-duplicated
// set of labels.
func SplitAffiliations(cell string, seps []string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := []string{cell}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	var out []string
	for _, p := range parts {
		label := normalize.Label(p)
		if label == "" || slices.Contains(out, label) {
			continue
		}
		out = append(out, label)
	}
	return out
}

// attributes carries every unmapped, non-empty column through to the record.
func attributes(h header, row []string, mapped map[int]bool) map[string]string {
	var attrs map[string]string
	for i, cell := range row {
		if mapped[i] || i >= len(h.labels) || h.labels[i] == "" {
			continue
		}
		// Only the first of a repeated header is kept.
		if h.idx[headerKey(h.labels[i])] != i {
			continue
		}
		v := strings.TrimSpace(cell)
		if v == "" {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[h.labels[i]] = v
	}
	return attrs
}

// donorStatus derives ISR/UM/Non donor from the lifetime recognition
// columns. It returns "" when the export carries neither column.
func donorStatus(h header, row []string, cols Columns) string {
	_, hasISR := h.col(cols.ISRRecognition)
	_, hasUM := h.col(cols.UMRecognition)
	if !hasISR && !hasUM {
		return ""
	}
	switch {
	case h.get(row, cols.ISRRecognition) != "":
		return ISRDonor
	case h.get(row, cols.UMRecognition) != "":
		return UMDonor
	default:
		return NonDonor
	}
}

// recognitionAmounts returns the numeric form of each recognition column the
// export carries. Cells that are not money amounts are left out.
func recognitionAmounts(h header, row []string, cols Columns, rowNum int) map[string]string {
	out := make(map[string]string, 2)
	for attr, col := range map[string]string{ISRAmountAttr: cols.ISRRecognition, UMAmountAttr: cols.UMRecognition} {
		if _, ok := h.col(col); !ok {
			continue
		}
		amount, err := ParseAmount(h.get(row, col))
		if err != nil {
			zap.L().Warn("ingest: recognition amount not numeric",
				zap.Int("row", rowNum), zap.String("column", col), zap.Error(err))
			continue
		}
		out[attr] = strconv.FormatFloat(amount, 'f', -1, 64)
	}
	return out
}

// ParseAmount parses a money cell such as "$1,500.00". An empty cell is 0.
func ParseAmount(cell string) (float64, error) {
	s := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(cell))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: parse amount %q", cell)
	}
	return v, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
