package store

import (
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/model"
)

// dBase caps character fields at 254 bytes and names at 10 characters.
const dbfMaxLen = 254

var shapeFields = []shp.Field{
	shp.StringField("KEY", dbfMaxLen),
	shp.StringField("ID", 64),
	shp.StringField("NAME", dbfMaxLen),
	shp.StringField("STREET", dbfMaxLen),
	shp.StringField("CITY", 64),
	shp.StringField("STATE", 32),
	shp.StringField("POSTAL", 16),
	shp.StringField("AFFILS", dbfMaxLen),
	shp.StringField("SOURCE", 16),
}

// writeShapefile writes a POINT shapefile of the resolved records and
// returns the names of the .shp, .shx and .dbf files.
func writeShapefile(path string, recs []model.Record) ([]string, error) {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return nil, eris.Wrapf(err, "store: create shapefile %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shapeFields); err != nil {
		return nil, eris.Wrap(err, "store: set shapefile fields")
	}

	for _, r := range resolved(recs) {
		row := int(w.Write(&shp.Point{X: *r.Geocode.Longitude, Y: *r.Geocode.Latitude}))
		values := []string{
			r.Key(), r.ID, r.Name, r.Street, r.City, r.State, r.PostalCode,
			joinList(r.Affiliations), r.Geocode.Source,
		}
		for i, v := range values {
			if err := w.WriteAttribute(row, i, truncate(v, int(shapeFields[i].Size))); err != nil {
				return nil, eris.Wrapf(err, "store: write shapefile attribute for %s", r.Key())
			}
		}
	}

	base := strings.TrimSuffix(filepath.Base(path), ".shp")
	return []string{base + ".shp", base + ".shx", base + ".dbf"}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
