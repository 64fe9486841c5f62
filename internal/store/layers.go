package store

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/partition"
)

// Layer output formats.
const (
	FormatCSV       = "csv"
	FormatGeoJSON   = "geojson"
	FormatShapefile = "shp"
)

// WriteLayers writes every layer into dir and returns the written file names
// relative to dir. CSV is always written; GeoJSON and shapefiles only when
// listed in formats. Geographic formats carry resolved records only.
func WriteLayers(dir string, layers partition.Layers, formats []string) ([]string, error) {
	want := make(map[string]bool, len(formats))
	for _, f := range formats {
		want[f] = true
	}

	labels := layers.Labels()
	stems := partition.FileNames(labels)

	var files []string
	for _, label := range labels {
		recs := layers[label]
		stem := stems[label]

		name := stem + ".csv"
		if err := writeFile(filepath.Join(dir, name), func(w *bufio.Writer) error {
			return writeRecords(w, recs)
		}); err != nil {
			return files, eris.Wrapf(err, "store: layer %q", label)
		}
		files = append(files, name)

		if want[FormatGeoJSON] {
			name := stem + ".geojson"
			if err := writeFile(filepath.Join(dir, name), func(w *bufio.Writer) error {
				return writeGeoJSON(w, label, recs)
			}); err != nil {
				return files, eris.Wrapf(err, "store: layer %q", label)
			}
			files = append(files, name)
		}
		if want[FormatShapefile] {
			written, err := writeShapefile(filepath.Join(dir, stem+".shp"), recs)
			if err != nil {
				return files, eris.Wrapf(err, "store: layer %q", label)
			}
			files = append(files, written...)
		}
	}
	return files, nil
}

func resolved(recs []model.Record) []model.Record {
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		if r.Geocode.Status == model.GeocodeResolved && r.Geocode.Latitude != nil && r.Geocode.Longitude != nil {
			out = append(out, r)
		}
	}
	return out
}

// writeFile creates path and hands a buffered writer to fill. The file is
// synced before close.
func writeFile(path string, fill func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "store: create %s", path)
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "store: flush %s", path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "store: sync %s", path)
	}
	return eris.Wrapf(f.Close(), "store: close %s", path)
}
