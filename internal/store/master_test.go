package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dart-isr/donor-geo/internal/model"
)

var at = time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)

func sampleDataset(t *testing.T) *model.MasterDataset {
	t.Helper()
	ds := model.NewMasterDataset()

	jane := model.Record{
		ID: "8-1", Name: "Jane Doe", Street: "123 Elm St", City: "Ann Arbor", State: "MI",
		Affiliations: []string{"ProgramA", "Program, B"},
		Interests:    []string{"Health: Aging"},
		Attributes:   map[string]string{"Age": "61", "donor_status": "ISR Donor"},
		SourceBatch:  "abc123", UpdatedAt: at,
	}
	jane.Geocode.SetResolved(42.28083617831, -83.74302, "census", at)
	require.NoError(t, ds.Insert(jane))

	lost := model.Record{Name: "Lost Person", Street: "1 Nowhere", City: "Nowhere", State: "ZZ", SourceBatch: "abc123", UpdatedAt: at}
	lost.Geocode.SetUnresolved("no address matches", "census", at)
	require.NoError(t, ds.Insert(lost))

	fresh := model.Record{ID: "8-2", Name: "New \"Quoted\" Donor", Street: "9 Oak Ave\nUnit 2", SourceBatch: "abc123", UpdatedAt: at}
	fresh.Geocode.MarkStale("")
	require.NoError(t, ds.Insert(fresh))
	return ds
}

func TestMaster_RoundTrip(t *testing.T) {
	ds := sampleDataset(t)

	var buf bytes.Buffer
	require.NoError(t, WriteMaster(&buf, ds))

	got, err := ReadMaster(&buf)
	require.NoError(t, err)
	assert.Equal(t, ds.Records(), got.Records())
}

func TestMaster_CoordinatesDoNotDrift(t *testing.T) {
	ds := sampleDataset(t)
	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		require.NoError(t, WriteMaster(&buf, ds))
		var err error
		ds, err = ReadMaster(&buf)
		require.NoError(t, err)
	}
	jane, ok := ds.Get("id:8-1")
	require.True(t, ok)
	assert.Equal(t, 42.28083617831, *jane.Geocode.Latitude)
	assert.Equal(t, -83.74302, *jane.Geocode.Longitude)
}

func TestMaster_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMaster(&buf, sampleDataset(t)))

	first, _, _ := strings.Cut(buf.String(), "\n")
	assert.Equal(t, strings.Join(MasterHeader, ",")+",attr:Age,attr:donor_status", first)
}

func TestLoadMaster_MissingFileIsEmpty(t *testing.T) {
	ds, err := LoadMaster(filepath.Join(t.TempDir(), "master.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestLoadMaster_BadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,street\nJane,1 Elm\n"), 0o644))

	_, err := LoadMaster(path)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, path, pe.Path)
}

func TestReadMaster_UnknownColumn(t *testing.T) {
	header := strings.Join(MasterHeader, ",") + ",extra"
	_, err := ReadMaster(strings.NewReader(header + "\n"))
	assert.ErrorContains(t, err, "unexpected master column")
}

func TestReadMaster_EmptyFile(t *testing.T) {
	ds, err := ReadMaster(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestReadMaster_RepairsInconsistentGeocode(t *testing.T) {
	row := make([]string, len(MasterHeader))
	row[colKey] = "id:7"
	row[colID] = "7"
	row[colName] = "Half Geocoded"
	row[colStatus] = "resolved"
	row[colLat] = "42.1"
	input := strings.Join(MasterHeader, ",") + "\n" + strings.Join(row, ",") + "\n"

	ds, err := ReadMaster(strings.NewReader(input))
	require.NoError(t, err)
	rec, ok := ds.Get("id:7")
	require.True(t, ok)
	assert.Equal(t, model.GeocodeStale, rec.Geocode.Status)
	assert.Nil(t, rec.Geocode.Latitude)
	assert.Equal(t, ReasonRepaired, rec.Geocode.FailureReason)
}

func TestReadMaster_UnknownStatusIsStale(t *testing.T) {
	row := make([]string, len(MasterHeader))
	row[colID] = "7"
	row[colName] = "X"
	row[colStatus] = "pending"
	input := strings.Join(MasterHeader, ",") + "\n" + strings.Join(row, ",") + "\n"

	ds, err := ReadMaster(strings.NewReader(input))
	require.NoError(t, err)
	rec, _ := ds.Get("id:7")
	assert.Equal(t, model.GeocodeStale, rec.Geocode.Status)
}

func TestReadMaster_DuplicateKey(t *testing.T) {
	row := make([]string, len(MasterHeader))
	row[colID] = "7"
	row[colName] = "X"
	row[colStatus] = "stale"
	line := strings.Join(row, ",")
	input := strings.Join(MasterHeader, ",") + "\n" + line + "\n" + line + "\n"

	_, err := ReadMaster(strings.NewReader(input))
	assert.ErrorContains(t, err, "duplicate identity key")
}

func TestReadMaster_BadCoordinate(t *testing.T) {
	row := make([]string, len(MasterHeader))
	row[colID] = "7"
	row[colStatus] = "resolved"
	row[colLat] = "north"
	row[colLon] = "1"
	input := strings.Join(MasterHeader, ",") + "\n" + strings.Join(row, ",") + "\n"

	_, err := ReadMaster(strings.NewReader(input))
	assert.ErrorContains(t, err, "latitude")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a||b|a"))
	assert.Equal(t, []string{"Arts|Sciences", `C:\x`}, splitList(`Arts\|Sciences|C:\\x`))
}

func TestJoinList_RoundTrip(t *testing.T) {
	values := []string{"Arts|Sciences", `back\slash`, `trailing\`, "plain"}
	joined := joinList(values)
	assert.Equal(t, `Arts\|Sciences|back\\slash|trailing\\|plain`, joined)
	assert.Equal(t, values, splitList(joined))
}

func TestMaster_LabelWithSeparator(t *testing.T) {
	ds := model.NewMasterDataset()
	require.NoError(t, ds.Insert(model.Record{
		ID:           "42",
		Name:         "Jane Doe",
		Street:       "1 Main St",
		City:         "Ann Arbor",
		State:        "MI",
		Affiliations: []string{"Arts|Sciences", "Music"},
		Interests:    []string{"Research: Health|Aging"},
		Geocode:      model.Geocode{Status: model.GeocodeStale},
	}))

	var first bytes.Buffer
	require.NoError(t, WriteMaster(&first, ds))

	loaded, err := ReadMaster(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	got, ok := loaded.Get("id:42")
	require.True(t, ok)
	assert.Equal(t, []string{"Arts|Sciences", "Music"}, got.Affiliations)
	assert.Equal(t, []string{"Research: Health|Aging"}, got.Interests)

	var second bytes.Buffer
	require.NoError(t, WriteMaster(&second, loaded))
	assert.Equal(t, first.String(), second.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "Jos", truncate("José", 4), "does not split a multi-byte rune")
}
