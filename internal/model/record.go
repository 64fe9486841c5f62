// Package model defines the typed donor records carried through the pipeline.
package model

import (
	"slices"
	"strings"
	"time"

	"github.com/dart-isr/donor-geo/internal/normalize"
)

// GeocodeStatus is the resolution state of a record's address.
type GeocodeStatus string

const (
	// GeocodeResolved means the address has coordinates.
	GeocodeResolved GeocodeStatus = "resolved"
	// GeocodeUnresolved means the address permanently failed to resolve.
	GeocodeUnresolved GeocodeStatus = "unresolved"
	// GeocodeStale means the address needs (re-)resolution.
	GeocodeStale GeocodeStatus = "stale"
)

// Valid reports whether s is one of the known statuses.
func (s GeocodeStatus) Valid() bool {
	switch s {
	case GeocodeResolved, GeocodeUnresolved, GeocodeStale:
		return true
	default:
		return false
	}
}

// Geocode holds the geocode fields of a record. Use the Set/Mark methods so
// coordinates and status never disagree.
type Geocode struct {
	Status        GeocodeStatus `json:"status" yaml:"status"`
	Latitude      *float64      `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude     *float64      `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Source        string        `json:"source,omitempty" yaml:"source,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	GeocodedAt    time.Time     `json:"geocoded_at,omitempty" yaml:"geocoded_at,omitempty"`
}

// SetResolved records a successful resolution.
func (g *Geocode) SetResolved(lat, lon float64, source string, at time.Time) {
	g.Status = GeocodeResolved
	g.Latitude = &lat
	g.Longitude = &lon
	g.Source = source
	g.FailureReason = ""
	g.GeocodedAt = at.UTC()
}

// SetUnresolved records a permanent failure for the current address.
func (g *Geocode) SetUnresolved(reason, source string, at time.Time) {
	g.Status = GeocodeUnresolved
	g.Latitude = nil
	g.Longitude = nil
	g.Source = source
	g.FailureReason = reason
	g.GeocodedAt = at.UTC()
}

// MarkStale clears coordinates and flags the address for resolution on the
// next geocoding pass. GeocodedAt keeps the time of the last attempt.
func (g *Geocode) MarkStale(reason string) {
	g.Status = GeocodeStale
	g.Latitude = nil
	g.Longitude = nil
	g.Source = ""
	g.FailureReason = reason
}

// Consistent reports whether status and coordinates agree.
func (g Geocode) Consistent() bool {
	hasCoords := g.Latitude != nil && g.Longitude != nil
	noCoords := g.Latitude == nil && g.Longitude == nil
	switch g.Status {
	case GeocodeResolved:
		return hasCoords
	case GeocodeUnresolved, GeocodeStale:
		return noCoords
	default:
		return false
	}
}

// Record is one donor or affiliate entity.
type Record struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string `json:"name" yaml:"name"`
	Street     string `json:"street,omitempty" yaml:"street,omitempty"`
	City       string `json:"city,omitempty" yaml:"city,omitempty"`
	State      string `json:"state,omitempty" yaml:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
	Country    string `json:"country,omitempty" yaml:"country,omitempty"`

	Affiliations []string          `json:"affiliations,omitempty" yaml:"affiliations,omitempty"`
	Interests    []string          `json:"interests,omitempty" yaml:"interests,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	Geocode Geocode `json:"geocode" yaml:"geocode"`

	SourceBatch string    `json:"source_batch,omitempty" yaml:"source_batch,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`

	// Row is the 1-based source row number; not persisted.
	Row int `json:"-" yaml:"-"`
}

const (
	idKeyPrefix      = "id:"
	naturalKeyPrefix = "nk:"
)

// NormalizedName returns the matching form of the record's name.
func (r Record) NormalizedName() string {
	return normalize.Name(r.Name)
}

// NormalizedAddress returns the matching and cache form of the record's address.
func (r Record) NormalizedAddress() string {
	return normalize.Address(r.Street, r.City, r.State, r.PostalCode, r.Country)
}

// CompositeKey returns the normalized name+address key, ignoring any stable ID.
func (r Record) CompositeKey() string {
	return r.NormalizedName() + "|" + r.NormalizedAddress()
}

// Key returns the identity key: the stable ID when present, otherwise the
// composite natural key.
func (r Record) Key() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return idKeyPrefix + id
	}
	return naturalKeyPrefix + r.CompositeKey()
}

// HasAddress reports whether any address component is present.
func (r Record) HasAddress() bool {
	return strings.TrimSpace(r.Street) != "" ||
		strings.TrimSpace(r.City) != "" ||
		strings.TrimSpace(r.State) != "" ||
		strings.TrimSpace(r.PostalCode) != ""
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	c.Affiliations = slices.Clone(r.Affiliations)
	c.Interests = slices.Clone(r.Interests)
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	if r.Geocode.Latitude != nil {
		lat := *r.Geocode.Latitude
		c.Geocode.Latitude = &lat
	}
	if r.Geocode.Longitude != nil {
		lon := *r.Geocode.Longitude
		c.Geocode.Longitude = &lon
	}
	return c
}
