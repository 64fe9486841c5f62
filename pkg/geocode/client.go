// Package geocode resolves postal addresses to coordinates through the Census,
// Google or ArcGIS geocoding services, and caches permanent outcomes keyed by
// normalized address.
package geocode

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dart-isr/donor-geo/internal/resilience"
)

// Client geocodes a single address.
type Client interface {
	// Geocode returns a Result, or a *Failure describing why the address did
	// not resolve.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// Provider is one geocoding backend. Providers make exactly one request per
// call; throttling, timeouts and retries are applied by the Client.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // provider name
	Quality   string // "rooftop", "range", "centroid", "approximate"
	Score     float64
}

// Validate rejects addresses no provider can resolve: a street plus either
// city and state or a postal code is required.
func Validate(addr AddressInput) error {
	street := strings.TrimSpace(addr.Street)
	city := strings.TrimSpace(addr.City)
	state := strings.TrimSpace(addr.State)
	zip := strings.TrimSpace(addr.ZipCode)

	switch {
	case street == "" && city == "" && state == "" && zip == "":
		return invalidInput("", "empty address")
	case street == "":
		return invalidInput("", "missing street")
	case zip == "" && (city == "" || state == ""):
		return invalidInput("", "need city and state or postal code")
	}
	return nil
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithRateLimit caps provider requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *geocoder) {
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds each provider request.
func WithTimeout(d time.Duration) Option {
	return func(g *geocoder) {
		g.timeout = d
	}
}

// WithRetry sets how many attempts a transient service error gets.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

// WithCircuitBreaker fails calls fast once the service keeps erroring.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *geocoder) {
		g.breaker = cb
	}
}

type geocoder struct {
	provider Provider
	limiter  *rate.Limiter
	timeout  time.Duration
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewClient wraps provider with throttling, per-call timeouts, retries of
// transient service errors and an optional circuit breaker.
func NewClient(provider Provider, opts ...Option) Client {
	g := &geocoder{
		provider: provider,
		limiter:  rate.NewLimiter(10, 10),
		timeout:  30 * time.Second,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger(provider.Name(), "geocode")
	}
	return g
}

// Geocode validates addr, then calls the provider.
func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if err := Validate(addr); err != nil {
		var f *Failure
		if errors.As(err, &f) {
			f.Provider = g.provider.Name()
		}
		return nil, err
	}

	call := func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, g.retry, g.attempt(addr))
	}

	var (
		res *Result
		err error
	)
	if g.breaker != nil {
		res, err = resilience.ExecuteVal(ctx, g.breaker, call)
	} else {
		res, err = call(ctx)
	}
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			return nil, serviceError(g.provider.Name(), err)
		}
		return nil, err
	}
	return res, nil
}

// attempt returns one throttled, time-bounded provider request.
func (g *geocoder) attempt(addr AddressInput) func(context.Context) (*Result, error) {
	return func(ctx context.Context) (*Result, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, serviceError(g.provider.Name(), err)
		}
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		res, err := g.provider.Geocode(callCtx, addr)
		if err != nil {
			zap.L().Debug("geocode: provider call failed",
				zap.String("provider", g.provider.Name()),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
			return nil, err
		}
		return res, nil
	}
}

// TripsBreaker reports whether err should count against a circuit breaker:
// service errors do, answers about the address and caller cancellation do not.
func TripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindServiceError
}

// NewProvider builds the named provider.
func NewProvider(name, apiKey string, minScore float64, hc *http.Client) (Provider, error) {
	if hc == nil {
		hc = &http.Client{}
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderCensus:
		return &CensusProvider{httpClient: hc}, nil
	case ProviderGoogle:
		if apiKey == "" {
			return nil, eris.New("geocode: google provider needs an api key")
		}
		return &GoogleProvider{httpClient: hc, apiKey: apiKey}, nil
	case ProviderArcGIS:
		if apiKey == "" {
			return nil, eris.New("geocode: arcgis provider needs an api key")
		}
		return &ArcGISProvider{httpClient: hc, apiKey: apiKey, minScore: minScore}, nil
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", name)
	}
}

// Provider names.
const (
	ProviderCensus = "census"
	ProviderGoogle = "google"
	ProviderArcGIS = "arcgis"
)

// formatOneLine formats an address as a single line.
func formatOneLine(addr AddressInput) string {
	parts := []string{addr.Street, addr.City, addr.State, addr.ZipCode, addr.Country}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
