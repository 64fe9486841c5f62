package store

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/dart-isr/donor-geo/internal/model"
)

func writeGeoJSON(w io.Writer, label string, recs []model.Record) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(recs))}
	for _, r := range resolved(recs) {
		fc.Features = append(fc.Features, feature(r))
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrapf(err, "store: encode geojson for %q", label)
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "store: write geojson")
	}
	return nil
}

func feature(r model.Record) *geojson.Feature {
	props := map[string]interface{}{
		"key":            r.Key(),
		"id":             r.ID,
		"name":           r.Name,
		"street":         r.Street,
		"city":           r.City,
		"state":          r.State,
		"postal_code":    r.PostalCode,
		"affiliations":   joinList(r.Affiliations),
		"geocode_source": r.Geocode.Source,
	}
	if len(r.Interests) > 0 {
		props["interests"] = joinList(r.Interests)
	}
	for k, v := range r.Attributes {
		props[AttrPrefix+k] = v
	}
	return &geojson.Feature{
		ID:         r.Key(),
		Geometry:   geom.NewPointFlat(geom.XY, []float64{*r.Geocode.Longitude, *r.Geocode.Latitude}).SetSRID(4326),
		Properties: props,
	}
}
