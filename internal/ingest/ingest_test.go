package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/dart-isr/donor-geo/internal/model"
)

func testOptions() Options {
	return Options{Columns: Columns{
		ID:             "Constituent LookupID",
		Name:           "Name",
		FirstName:      "First Name",
		LastName:       "Last/Name/Org Name",
		Street:         "Home Address",
		City:           "Home City",
		State:          "Home State",
		PostalCode:     "Home Zip",
		Country:        "Home Country",
		Affiliation:    "Constituent Affiliation",
		ISRRecognition: "Institute for Social Research Lifetime Recognition",
		UMRecognition:  "UM-Wide Lifetime Recognition",
	}}
}

var exportHeader = []string{
	"Constituent LookupID", "Name", "Home Address", "Home City", "Home State", "Home Zip",
	"Home Country", "Constituent Affiliation", "Age",
	"Institute for Social Research\nLifetime Recognition", "UM-Wide\nLifetime Recognition",
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			cell := row.AddCell()
			cell.SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParse_MapsColumns(t *testing.T) {
	rows := [][]string{
		exportHeader,
		{"8-10001", "Jane Doe", "123 Elm St", "Ann Arbor", "MI", "48104", "USA", "ISR Alumni\nSRC Board, ISR Alumni", "61", "$1,500", ""},
	}

	res, err := Parse(rows, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Skipped)

	r := res.Records[0]
	assert.Equal(t, "8-10001", r.ID)
	assert.Equal(t, "Jane Doe", r.Name)
	assert.Equal(t, "123 Elm St", r.Street)
	assert.Equal(t, "Ann Arbor", r.City)
	assert.Equal(t, "MI", r.State)
	assert.Equal(t, "48104", r.PostalCode)
	assert.Equal(t, "USA", r.Country)
	assert.Equal(t, []string{"ISR Alumni", "SRC Board"}, r.Affiliations)
	assert.Equal(t, "61", r.Attributes["Age"])
	assert.Equal(t, "$1,500", r.Attributes["Institute for Social Research Lifetime Recognition"])
	assert.Equal(t, ISRDonor, r.Attributes[DonorStatusAttr])
	assert.Equal(t, "1500", r.Attributes[ISRAmountAttr])
	assert.Equal(t, "0", r.Attributes[UMAmountAttr])
	assert.Equal(t, model.GeocodeStale, r.Geocode.Status)
	assert.Equal(t, 2, r.Row)
}

func TestParse_FirstLastFallback(t *testing.T) {
	rows := [][]string{
		{"First Name", "Last/Name/Org Name", "Home Address", "Home City", "Home State"},
		{"Jane", "Doe", "123 Elm St", "Ann Arbor", "MI"},
	}
	res, err := Parse(rows, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Jane Doe", res.Records[0].Name)
	assert.Empty(t, res.Records[0].Attributes)
}

func TestParse_SkipsRowsWithoutNameOrAddress(t *testing.T) {
	rows := [][]string{
		exportHeader,
		{"8-1", "", "", "", "", "", "USA", "ISR Alumni", "", "", ""},
		{"", "", "", "", "", "", "", "", "", "", ""},
		{"8-2", "", "9 Oak Ave", "Detroit", "MI", "", "", "", "", "", "$20"},
	}

	res, err := Parse(rows, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "8-2", res.Records[0].ID)
	assert.Equal(t, UMDonor, res.Records[0].Attributes[DonorStatusAttr])

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Row)
	assert.Contains(t, res.Skipped[0].Error(), "row 2")
}

func TestParse_RecognitionAmounts(t *testing.T) {
	rows := [][]string{
		exportHeader,
		{"8-4", "Ann Lee", "2 Main St", "Ypsilanti", "MI", "", "", "", "", "$12,345.50", "pending"},
	}
	res, err := Parse(rows, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	attrs := res.Records[0].Attributes
	assert.Equal(t, "12345.5", attrs[ISRAmountAttr])
	assert.NotContains(t, attrs, UMAmountAttr, "non-numeric cell is left out")
	assert.Equal(t, "pending", attrs["UM-Wide Lifetime Recognition"])
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{"$1,500", 1500, false},
		{" $20.25 ", 20.25, false},
		{"", 0, false},
		{"300", 300, false},
		{"n/a", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_NonDonor(t *testing.T) {
	rows := [][]string{
		exportHeader,
		{"8-3", "John Roe", "1 Main St", "Ypsilanti", "MI", "", "", "", "", "", ""},
	}
	res, err := Parse(rows, testOptions())
	require.NoError(t, err)
	assert.Equal(t, NonDonor, res.Records[0].Attributes[DonorStatusAttr])
}

func TestParse_HeaderErrors(t *testing.T) {
	_, err := Parse(nil, testOptions())
	assert.Error(t, err)

	_, err = Parse([][]string{{"Foo", "Bar"}, {"1", "2"}}, testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name")
}

func TestSplitAffiliations(t *testing.T) {
	seps := []string{"\n", ","}
	assert.Nil(t, SplitAffiliations("  ", seps))
	assert.Equal(t, []string{"ISR Alumni"}, SplitAffiliations("ISR Alumni", seps))
	assert.Equal(t, []string{"A"}, SplitAffiliations(" A ,", seps))
	assert.Equal(t, []string{"SRC Board", "ISR Alumni", "PSC"}, SplitAffiliations("SRC  Board\nISR Alumni, PSC,SRC Board", seps))
}

func TestLoad_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		exportHeader,
		{"8-10001", "Jane Doe", "123 Elm St", "Ann Arbor", "MI", "48104", "USA", "ISR Alumni", "", "", ""},
		{"8-10002", "John Roe", "9 Oak Ave", "Detroit", "MI", "", "", "", "", "", ""},
	})

	res, err := Load(path, "", testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Jane Doe", res.Records[0].Name)
	assert.Len(t, res.BatchID, 12)
}

func TestLoad_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	content := "Constituent LookupID,Name,Home Address,Home City,Home State\n8-1,Jane Doe,123 Elm St,Ann Arbor,MI\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	res, err := Load(path, "", testOptions())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, BatchID([]byte(content)), res.BatchID)
}

func TestLoad_UnsupportedAndMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.csv"), "", testOptions())
	assert.Error(t, err)

	txt := filepath.Join(dir, "export.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0644))
	_, err = Load(txt, "", testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestReadRows_XLSXSheetByName(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"Name"}, {"Jane"}})

	rows, err := ReadRows(path, "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name"}, {"Jane"}}, rows)

	_, err = ReadRows(path, "Nope")
	assert.Error(t, err)
}

func TestBatchID_Deterministic(t *testing.T) {
	assert.Equal(t, BatchID([]byte("abc")), BatchID([]byte("abc")))
	assert.NotEqual(t, BatchID([]byte("abc")), BatchID([]byte("abd")))
	assert.Equal(t, "ba7816bf8f01", BatchID([]byte("abc")))
}
