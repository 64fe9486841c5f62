package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/config"
	"github.com/dart-isr/donor-geo/internal/ingest"
	"github.com/dart-isr/donor-geo/internal/resilience"
	"github.com/dart-isr/donor-geo/pkg/geocode"
)

// openCache opens the configured geocode cache backend.
func openCache(ctx context.Context, c config.CacheConfig) (*geocode.Cache, error) {
	var (
		st  geocode.CacheStore
		err error
	)
	switch c.Driver {
	case "memory":
		st = geocode.NewMemoryStore()
	case "sqlite":
		st, err = geocode.OpenSQLite(ctx, c.Path)
	case "postgres":
		st, err = geocode.OpenPostgres(ctx, c.DatabaseURL, c.Table)
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", c.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open geocode cache")
	}
	return geocode.NewCache(st), nil
}

// newGeocoder builds the provider client with throttling, retries and a
// circuit breaker from config.
func newGeocoder(g config.GeocodeConfig) (geocode.Client, error) {
	provider, err := geocode.NewProvider(g.Provider, g.APIKey, g.MinScore, &http.Client{Timeout: g.Timeout()})
	if err != nil {
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = g.Retries

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: g.CircuitThreshold,
		ResetTimeout:     time.Minute,
		ShouldTrip:       geocode.TripsBreaker,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("geocode: circuit breaker state change",
				zap.String("provider", provider.Name()),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return geocode.NewClient(provider,
		geocode.WithRateLimit(g.RateLimit, g.Burst),
		geocode.WithTimeout(g.Timeout()),
		geocode.WithRetry(retry),
		geocode.WithCircuitBreaker(breaker),
	), nil
}

func ingestOptions(in config.InputConfig) ingest.Options {
	c := in.Columns
	return ingest.Options{
		Columns: ingest.Columns{
			ID:             c.ID,
			Name:           c.Name,
			FirstName:      c.FirstName,
			LastName:       c.LastName,
			Street:         c.Street,
			City:           c.City,
			State:          c.State,
			PostalCode:     c.PostalCode,
			Country:        c.Country,
			Affiliation:    c.Affiliation,
			ISRRecognition: c.ISRRecognition,
			UMRecognition:  c.UMRecognition,
		},
		AffiliationSeps: in.AffiliationSep,
	}
}

func interestColumns(c config.ColumnsConfig) ingest.InterestColumns {
	return ingest.InterestColumns{
		ID:          c.InterestID,
		Category:    c.InterestCategory,
		Subcategory: c.InterestSubcategory,
		Level:       c.InterestLevel,
	}
}
