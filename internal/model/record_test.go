package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKey(t *testing.T) {
	withID := Record{ID: " 8-10001 ", Name: "Jane Doe", Street: "123 Elm St", City: "Ann Arbor", State: "MI"}
	assert.Equal(t, "id:8-10001", withID.Key())

	noID := Record{Name: "Jane  Doe.", Street: "123 Elm Street", City: "Ann Arbor", State: "MI"}
	assert.Equal(t, "nk:janedoe|123 elm st ann arbor mi", noID.Key())
	assert.Equal(t, "janedoe|123 elm st ann arbor mi", noID.CompositeKey())
	assert.Equal(t, noID.CompositeKey(), withID.CompositeKey())

	usa := noID
	usa.Country = "USA"
	assert.Equal(t, noID.Key(), usa.Key())
	abroad := noID
	abroad.Country = "Canada"
	assert.NotEqual(t, noID.Key(), abroad.Key())
}

func TestGeocodeTransitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	var g Geocode

	assert.False(t, g.Consistent(), "zero status is not a valid state")

	g.SetResolved(42.2808, -83.743, "census", at)
	assert.Equal(t, GeocodeResolved, g.Status)
	require.NotNil(t, g.Latitude)
	assert.Equal(t, 42.2808, *g.Latitude)
	assert.Equal(t, time.UTC, g.GeocodedAt.Location())
	assert.True(t, g.Consistent())

	g.MarkStale("address changed")
	assert.Equal(t, GeocodeStale, g.Status)
	assert.Nil(t, g.Latitude)
	assert.Nil(t, g.Longitude)
	assert.Empty(t, g.Source)
	assert.Equal(t, "address changed", g.FailureReason)
	assert.True(t, g.Consistent())

	g.SetUnresolved("not_found", "census", at)
	assert.Equal(t, GeocodeUnresolved, g.Status)
	assert.Nil(t, g.Latitude)
	assert.True(t, g.Consistent())

	lat := 1.0
	bad := Geocode{Status: GeocodeUnresolved, Latitude: &lat}
	assert.False(t, bad.Consistent())
}

func TestGeocodeStatusValid(t *testing.T) {
	assert.True(t, GeocodeResolved.Valid())
	assert.True(t, GeocodeStale.Valid())
	assert.False(t, GeocodeStatus("pending").Valid())
}

func TestRecordClone_IsDeep(t *testing.T) {
	r := Record{
		Name:         "Jane Doe",
		Affiliations: []string{"ISR Alumni"},
		Interests:    []string{"Health"},
		Attributes:   map[string]string{"Age": "61"},
	}
	r.Geocode.SetResolved(1, 2, "census", time.Now())

	c := r.Clone()
	c.Affiliations[0] = "changed"
	c.Interests = append(c.Interests, "more")
	c.Attributes["Age"] = "62"
	*c.Geocode.Latitude = 99

	assert.Equal(t, []string{"ISR Alumni"}, r.Affiliations)
	assert.Equal(t, []string{"Health"}, r.Interests)
	assert.Equal(t, "61", r.Attributes["Age"])
	assert.Equal(t, 1.0, *r.Geocode.Latitude)
}

func TestRecordHasAddress(t *testing.T) {
	assert.False(t, Record{Name: "x", Country: "USA"}.HasAddress())
	assert.True(t, Record{PostalCode: "48104"}.HasAddress())
}
