package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/resilience"
)

const arcgisFindURL = "https://geocode-api.arcgis.com/arcgis/rest/services/World/GeocodeServer/findAddressCandidates"

// DefaultArcGISMinScore is the lowest candidate score accepted as a match.
const DefaultArcGISMinScore = 80

// ArcGISProvider geocodes with the ArcGIS World Geocoding Service.
type ArcGISProvider struct {
	httpClient *http.Client
	apiKey     string
	minScore   float64
}

type arcgisResponse struct {
	Candidates []arcgisCandidate `json:"candidates"`
	Error      *arcgisError      `json:"error"`
}

type arcgisCandidate struct {
	Address  string `json:"address"`
	Location struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"location"`
	Score      float64 `json:"score"`
	Attributes struct {
		AddrType string `json:"Addr_type"`
	} `json:"attributes"`
}

type arcgisError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Name implements Provider.
func (p *ArcGISProvider) Name() string { return ProviderArcGIS }

// Geocode implements Provider.
func (p *ArcGISProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	params := url.Values{
		"f":            {"json"},
		"singleLine":   {formatOneLine(addr)},
		"maxLocations": {"1"},
		"outFields":    {"Addr_type"},
		"token":        {p.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arcgisFindURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, serviceError(ProviderArcGIS, eris.Wrap(err, "build request"))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, serviceError(ProviderArcGIS, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ProviderArcGIS, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, serviceError(ProviderArcGIS, eris.Wrap(err, "read body"))
	}

	var arcResp arcgisResponse
	if err := json.Unmarshal(body, &arcResp); err != nil {
		return nil, serviceError(ProviderArcGIS, eris.Wrap(err, "parse response"))
	}

	// ArcGIS reports errors in the body with HTTP 200.
	if e := arcResp.Error; e != nil {
		err := eris.Errorf("error %d: %s", e.Code, e.Message)
		if resilience.IsTransientHTTPStatus(e.Code) {
			return nil, serviceError(ProviderArcGIS, resilience.NewTransientError(err, e.Code))
		}
		if e.Code == http.StatusBadRequest {
			return nil, invalidInput(ProviderArcGIS, "%s", e.Message)
		}
		return nil, serviceError(ProviderArcGIS, err)
	}

	if len(arcResp.Candidates) == 0 {
		return nil, notFound(ProviderArcGIS, "no candidates")
	}

	best := arcResp.Candidates[0]
	minScore := p.minScore
	if minScore <= 0 {
		minScore = DefaultArcGISMinScore
	}
	if best.Score < minScore {
		return nil, notFound(ProviderArcGIS, "best candidate score %.1f below %.1f", best.Score, minScore)
	}

	return &Result{
		Latitude:  best.Location.Y,
		Longitude: best.Location.X,
		Source:    ProviderArcGIS,
		Quality:   arcgisAddrTypeToQuality(best.Attributes.AddrType),
		Score:     best.Score,
	}, nil
}

func arcgisAddrTypeToQuality(addrType string) string {
	switch addrType {
	case "PointAddress", "Subaddress":
		return "rooftop"
	case "StreetAddress", "StreetInt":
		return "range"
	case "Postal", "PostalExt", "Locality":
		return "centroid"
	default:
		return "approximate"
	}
}
