package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

// CensusProvider geocodes US addresses with the Census Bureau one-line
// geocoder. It needs no API key.
type CensusProvider struct {
	httpClient *http.Client
}

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
	Errors []string `json:"errors"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// Name implements Provider.
func (p *CensusProvider) Name() string { return ProviderCensus }

// Geocode implements Provider.
func (p *CensusProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	// The Census geocoder only covers the US and rejects a trailing country.
	addr.Country = ""
	params := url.Values{
		"address":   {formatOneLine(addr)},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, censusOneLineURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, serviceError(ProviderCensus, eris.Wrap(err, "build request"))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, serviceError(ProviderCensus, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serviceError(ProviderCensus, eris.Wrap(err, "read body"))
	}

	var censusResp censusOneLineResponse
	if resp.StatusCode == http.StatusBadRequest {
		// 400 carries the validation messages for unparseable addresses.
		_ = json.Unmarshal(body, &censusResp)
		return nil, invalidInput(ProviderCensus, "rejected: %s", strings.Join(censusResp.Errors, "; "))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ProviderCensus, resp.StatusCode)
	}

	if err := json.Unmarshal(body, &censusResp); err != nil {
		return nil, serviceError(ProviderCensus, eris.Wrap(err, "parse response"))
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return nil, notFound(ProviderCensus, "no address matches")
	}

	match := censusResp.Result.AddressMatches[0]
	return &Result{
		Latitude:  match.Coordinates.Y,
		Longitude: match.Coordinates.X,
		Source:    ProviderCensus,
		Quality:   "rooftop", // Census one-line matches are exact
	}, nil
}
