package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dart-isr/donor-geo/internal/resilience"
)

func newGoogleTestProvider(t *testing.T, body string) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return &GoogleProvider{httpClient: newRewriteClient(srv.URL, googleGeocodeURL), apiKey: "test-key"}
}

func TestGoogleGeocode_Rooftop(t *testing.T) {
	p := newGoogleTestProvider(t, `{
		"status": "OK",
		"results": [{
			"geometry": {
				"location": {"lat": 42.2808, "lng": -83.7430},
				"location_type": "ROOFTOP"
			},
			"formatted_address": "123 Elm St, Ann Arbor, MI 48104, USA"
		}]
	}`)

	result, err := p.Geocode(context.Background(), AddressInput{
		Street: "123 Elm St", City: "Ann Arbor", State: "MI",
	})
	require.NoError(t, err)
	assert.InDelta(t, 42.2808, result.Latitude, 0.0001)
	assert.InDelta(t, -83.7430, result.Longitude, 0.0001)
	assert.Equal(t, "google", result.Source)
	assert.Equal(t, "rooftop", result.Quality)
}

func TestGoogleGeocode_ZeroResults(t *testing.T) {
	p := newGoogleTestProvider(t, `{"status": "ZERO_RESULTS", "results": []}`)

	_, err := p.Geocode(context.Background(), AddressInput{Street: "1 Nowhere", ZipCode: "00000"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGoogleGeocode_OverQueryLimitIsTransient(t *testing.T) {
	p := newGoogleTestProvider(t, `{"status": "OVER_QUERY_LIMIT", "results": []}`)

	_, err := p.Geocode(context.Background(), AddressInput{Street: "1 Main St", ZipCode: "48104"})
	require.Error(t, err)
	assert.Equal(t, KindServiceError, KindOf(err))
	assert.True(t, resilience.IsTransient(err))
}

func TestGoogleGeocode_RequestDeniedIsPermanentServiceError(t *testing.T) {
	p := newGoogleTestProvider(t, `{"status": "REQUEST_DENIED", "error_message": "bad key", "results": []}`)

	_, err := p.Geocode(context.Background(), AddressInput{Street: "1 Main St", ZipCode: "48104"})
	require.Error(t, err)
	assert.Equal(t, KindServiceError, KindOf(err))
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "bad key")
}

func TestGoogleLocationTypeToQuality(t *testing.T) {
	assert.Equal(t, "rooftop", googleLocationTypeToQuality("ROOFTOP"))
	assert.Equal(t, "range", googleLocationTypeToQuality("RANGE_INTERPOLATED"))
	assert.Equal(t, "centroid", googleLocationTypeToQuality("GEOMETRIC_CENTER"))
	assert.Equal(t, "approximate", googleLocationTypeToQuality("APPROXIMATE"))
	assert.Equal(t, "approximate", googleLocationTypeToQuality(""))
}
