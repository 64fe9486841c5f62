package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleProvider geocodes with the Google Geocoding API.
type GoogleProvider struct {
	httpClient *http.Client
	apiKey     string
}

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	params := url.Values{
		"address": {formatOneLine(addr)},
		"key":     {p.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, serviceError(ProviderGoogle, eris.Wrap(err, "build request"))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, serviceError(ProviderGoogle, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ProviderGoogle, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serviceError(ProviderGoogle, eris.Wrap(err, "read body"))
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, serviceError(ProviderGoogle, eris.Wrap(err, "parse response"))
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, notFound(ProviderGoogle, "zero results")
	case "INVALID_REQUEST":
		return nil, invalidInput(ProviderGoogle, "invalid request: %s", googleResp.ErrorMessage)
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, serviceError(ProviderGoogle,
			resilience.NewTransientError(eris.Errorf("status %s", googleResp.Status), 0))
	default:
		// REQUEST_DENIED, OVER_DAILY_LIMIT: retrying will not help.
		return nil, serviceError(ProviderGoogle,
			eris.Errorf("status %s: %s", googleResp.Status, googleResp.ErrorMessage))
	}

	if len(googleResp.Results) == 0 {
		return nil, notFound(ProviderGoogle, "zero results")
	}

	result := googleResp.Results[0]
	return &Result{
		Latitude:  result.Geometry.Location.Lat,
		Longitude: result.Geometry.Location.Lng,
		Source:    ProviderGoogle,
		Quality:   googleLocationTypeToQuality(result.Geometry.LocationType),
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
