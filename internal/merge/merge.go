// Package merge combines an incoming record with its existing master record.
package merge

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dart-isr/donor-geo/internal/model"
)

// ReasonAddressChanged is recorded on geocodes invalidated by a new address.
const ReasonAddressChanged = "address changed"

// Merge returns the merged record. It is pure: neither argument is modified.
//
// Incoming wins for every non-empty field; existing values survive where
// incoming is empty. An existing ID is never replaced. Affiliations and
// interests are unioned with existing order first. Geocode fields are carried
// over when the normalized address is unchanged and marked stale otherwise.
// Provenance moves to the incoming batch only when content changed, so
// re-importing the same export leaves records untouched.
func Merge(existing *model.Record, incoming model.Record, at time.Time) model.Record {
	if existing == nil {
		m := incoming.Clone()
		m.Geocode = model.Geocode{}
		m.Geocode.MarkStale("")
		m.UpdatedAt = at.UTC()
		m.Row = incoming.Row
		return m
	}

	m := existing.Clone()
	m.Row = incoming.Row

	if strings.TrimSpace(m.ID) == "" {
		m.ID = pick(incoming.ID, m.ID)
	}
	m.Name = pick(incoming.Name, m.Name)
	m.Street = pick(incoming.Street, m.Street)
	m.City = pick(incoming.City, m.City)
	m.State = pick(incoming.State, m.State)
	m.PostalCode = pick(incoming.PostalCode, m.PostalCode)
	m.Country = pick(incoming.Country, m.Country)

	m.Affiliations = union(m.Affiliations, incoming.Affiliations)
	m.Interests = union(m.Interests, incoming.Interests)

	for k, v := range incoming.Attributes {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if m.Attributes == nil {
			m.Attributes = make(map[string]string)
		}
		m.Attributes[k] = v
	}

	if m.NormalizedAddress() != existing.NormalizedAddress() {
		m.Geocode.MarkStale(ReasonAddressChanged)
	}

	if Changed(*existing, m) {
		m.SourceBatch = incoming.SourceBatch
		m.UpdatedAt = at.UTC()
	}
	return m
}

// Changed reports whether a and b differ in anything but provenance.
func Changed(a, b model.Record) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Street != b.Street || a.City != b.City ||
		a.State != b.State || a.PostalCode != b.PostalCode || a.Country != b.Country {
		return true
	}
	if !slices.Equal(a.Affiliations, b.Affiliations) || !slices.Equal(a.Interests, b.Interests) {
		return true
	}
	if !maps.Equal(a.Attributes, b.Attributes) {
		return true
	}
	return !sameGeocode(a.Geocode, b.Geocode)
}

func sameGeocode(a, b model.Geocode) bool {
	return a.Status == b.Status &&
		sameCoord(a.Latitude, b.Latitude) &&
		sameCoord(a.Longitude, b.Longitude) &&
		a.Source == b.Source &&
		a.FailureReason == b.FailureReason &&
		a.GeocodedAt.Equal(b.GeocodedAt)
}

func sameCoord(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func pick(incoming, existing string) string {
	if v := strings.TrimSpace(incoming); v != "" {
		return v
	}
	return existing
}

// union appends labels from add that base lacks, preserving order.
func union(base, add []string) []string {
	out := slices.Clone(base)
	for _, l := range add {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}
