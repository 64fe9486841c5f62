package store

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/model"
)

// AttrPrefix marks pass-through attribute columns in the master file.
const AttrPrefix = "attr:"

// ListSep joins multi-valued fields in a single cell. A separator or
// backslash inside a value is escaped with a backslash.
const ListSep = "|"

// ReasonRepaired is set on rows whose stored geocode fields disagreed.
const ReasonRepaired = "repaired inconsistent geocode"

// MasterHeader is the fixed column prefix of master and layer files.
var MasterHeader = []string{
	"key", "id", "name", "street", "city", "state", "postal_code", "country",
	"affiliations", "interests",
	"geocode_status", "latitude", "longitude", "geocode_source", "geocode_failure", "geocoded_at",
	"source_batch", "updated_at",
}

const (
	colKey = iota
	colID
	colName
	colStreet
	colCity
	colState
	colPostal
	colCountry
	colAffiliations
	colInterests
	colStatus
	colLat
	colLon
	colSource
	colFailure
	colGeocodedAt
	colSourceBatch
	colUpdatedAt
)

// LoadMaster reads the master file at path. A missing file is the first run
// and yields an empty dataset.
func LoadMaster(path string) (*model.MasterDataset, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("store: no master file, starting empty", zap.String("path", path))
		return model.NewMasterDataset(), nil
	}
	if err != nil {
		return nil, persistErr("open master", path, err)
	}
	defer f.Close() //nolint:errcheck

	ds, err := ReadMaster(f)
	if err != nil {
		return nil, persistErr("read master", path, err)
	}
	return ds, nil
}

// ReadMaster parses a master file. Rows whose geocode status and coordinates
// disagree are repaired to stale so they are geocoded again.
func ReadMaster(r io.Reader) (*model.MasterDataset, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return model.NewMasterDataset(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: read master header")
	}
	attrCols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	ds := model.NewMasterDataset()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "store: read master line %d", line)
		}
		if len(row) != len(header) {
			return nil, eris.Errorf("store: master line %d: %d fields, want %d", line, len(row), len(header))
		}

		rec, err := parseRow(row, attrCols)
		if err != nil {
			return nil, eris.Wrapf(err, "store: master line %d", line)
		}
		if !rec.Geocode.Consistent() {
			zap.L().Warn("store: repairing inconsistent geocode fields",
				zap.Int("line", line),
				zap.String("key", rec.Key()),
				zap.String("status", string(rec.Geocode.Status)),
			)
			rec.Geocode.MarkStale(ReasonRepaired)
		}
		if stored := row[colKey]; stored != "" && stored != rec.Key() {
			zap.L().Debug("store: master key recomputed",
				zap.String("stored", stored), zap.String("key", rec.Key()))
		}
		if err := ds.Insert(rec); err != nil {
			return nil, eris.Wrapf(err, "store: master line %d", line)
		}
	}
	return ds, nil
}

func parseHeader(header []string) ([]string, error) {
	if len(header) < len(MasterHeader) {
		return nil, eris.Errorf("store: master header has %d columns, want at least %d", len(header), len(MasterHeader))
	}
	for i, want := range MasterHeader {
		if strings.TrimPrefix(header[i], "\ufeff") != want {
			return nil, eris.Errorf("store: master header column %d is %q, want %q", i+1, header[i], want)
		}
	}
	attrs := make([]string, 0, len(header)-len(MasterHeader))
	for _, h := range header[len(MasterHeader):] {
		name, ok := strings.CutPrefix(h, AttrPrefix)
		if !ok || name == "" {
			return nil, eris.Errorf("store: unexpected master column %q", h)
		}
		attrs = append(attrs, name)
	}
	return attrs, nil
}

func parseRow(row []string, attrCols []string) (model.Record, error) {
	rec := model.Record{
		ID:           row[colID],
		Name:         row[colName],
		Street:       row[colStreet],
		City:         row[colCity],
		State:        row[colState],
		PostalCode:   row[colPostal],
		Country:      row[colCountry],
		Affiliations: splitList(row[colAffiliations]),
		Interests:    splitList(row[colInterests]),
		SourceBatch:  row[colSourceBatch],
	}

	var err error
	if rec.UpdatedAt, err = parseTime(row[colUpdatedAt]); err != nil {
		return rec, eris.Wrap(err, "updated_at")
	}

	g := &rec.Geocode
	g.Status = model.GeocodeStatus(row[colStatus])
	if g.Latitude, err = parseCoord(row[colLat]); err != nil {
		return rec, eris.Wrap(err, "latitude")
	}
	if g.Longitude, err = parseCoord(row[colLon]); err != nil {
		return rec, eris.Wrap(err, "longitude")
	}
	g.Source = row[colSource]
	g.FailureReason = row[colFailure]
	if g.GeocodedAt, err = parseTime(row[colGeocodedAt]); err != nil {
		return rec, eris.Wrap(err, "geocoded_at")
	}
	if !g.Status.Valid() {
		g.MarkStale(ReasonRepaired)
	}

	for i, name := range attrCols {
		v := row[len(MasterHeader)+i]
		if v == "" {
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string)
		}
		rec.Attributes[name] = v
	}
	return rec, nil
}

// WriteMaster writes every record of ds in identity key order.
func WriteMaster(w io.Writer, ds *model.MasterDataset) error {
	return writeRecords(w, ds.Records())
}

// writeRecords writes the master header, the attribute columns used by recs,
// and one row per record.
func writeRecords(w io.Writer, recs []model.Record) error {
	attrCols := attributeColumns(recs)

	cw := csv.NewWriter(w)
	header := slices.Clone(MasterHeader)
	for _, a := range attrCols {
		header = append(header, AttrPrefix+a)
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "store: write header")
	}

	row := make([]string, len(header))
	for _, r := range recs {
		formatRow(row, r, attrCols)
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "store: write %s", r.Key())
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "store: flush csv")
}

func formatRow(row []string, r model.Record, attrCols []string) {
	g := r.Geocode
	row[colKey] = r.Key()
	row[colID] = r.ID
	row[colName] = r.Name
	row[colStreet] = r.Street
	row[colCity] = r.City
	row[colState] = r.State
	row[colPostal] = r.PostalCode
	row[colCountry] = r.Country
	row[colAffiliations] = joinList(r.Affiliations)
	row[colInterests] = joinList(r.Interests)
	row[colStatus] = string(g.Status)
	row[colLat] = formatCoord(g.Latitude)
	row[colLon] = formatCoord(g.Longitude)
	row[colSource] = g.Source
	row[colFailure] = g.FailureReason
	row[colGeocodedAt] = formatTime(g.GeocodedAt)
	row[colSourceBatch] = r.SourceBatch
	row[colUpdatedAt] = formatTime(r.UpdatedAt)
	for i, a := range attrCols {
		row[len(MasterHeader)+i] = r.Attributes[a]
	}
}

func attributeColumns(recs []model.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range recs {
		for k := range r.Attributes {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

var listEscaper = strings.NewReplacer(`\`, `\\`, ListSep, `\`+ListSep)

// joinList joins values with ListSep so that splitList returns them
// unchanged.
func joinList(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = listEscaper.Replace(v)
	}
	return strings.Join(escaped, ListSep)
}

// splitList reverses joinList, dropping empty and repeated values.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out     []string
		cur     strings.Builder
		escaped bool
	)
	flush := func() {
		if v := cur.String(); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case string(r) == ListSep:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// formatCoord prints the shortest representation that parses back to the
// same float64.
func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseCoord(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
