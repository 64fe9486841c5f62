package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dart-isr/donor-geo/internal/merge"
	"github.com/dart-isr/donor-geo/internal/metrics"
	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/resilience"
	"github.com/dart-isr/donor-geo/pkg/geocode"
)

// ErrServiceOutage aborts a run configured to stop when the geocoding
// service is unavailable.
var ErrServiceOutage = eris.New("pipeline: geocoding service unavailable")

type geocodeJob struct {
	key  string
	addr geocode.AddressInput
}

// geocode resolves every stale record. Lookups run concurrently; outcomes
// are applied to the dataset afterwards on this goroutine only.
func (o *Orchestrator) geocode(ctx context.Context, r *run) error {
	var jobs []geocodeJob
	for _, rec := range r.ds.Records() {
		if rec.Geocode.Status != model.GeocodeStale {
			continue
		}
		jobs = append(jobs, geocodeJob{key: rec.Key(), addr: addressOf(rec)})
	}
	r.log.Info("pipeline: geocoding stale records", zap.Int("records", len(jobs)), zap.Int("workers", o.workers))
	if len(jobs) == 0 {
		return nil
	}

	outcomes := make([]geocode.Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, job := range jobs {
		g.Go(func() error {
			out, err := o.resolver.Resolve(gctx, job.addr)
			if err != nil {
				return eris.Wrapf(err, "pipeline: geocode %s", job.key)
			}
			if o.abortOnOutage && out.Failure != nil && errors.Is(out.Failure, resilience.ErrCircuitOpen) {
				return ErrServiceOutage
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, job := range jobs {
		if err := o.apply(r, job.key, outcomes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) apply(r *run, key string, out geocode.Outcome) error {
	before, ok := r.ds.Get(key)
	if !ok {
		return eris.Errorf("pipeline: geocoded key %q missing from dataset", key)
	}
	rec := before.Clone()
	c := &r.summary.Counts
	c.GeocodeAttempted++
	if out.CacheHit {
		c.CacheHits++
		r.metrics.Geocode(metrics.GeocodeCacheHit)
	}

	switch {
	case out.Resolved():
		rec.Geocode.SetResolved(out.Result.Latitude, out.Result.Longitude, out.Result.Source, r.at)
		c.Geocoded++
		r.metrics.Geocode(metrics.GeocodeResolved)

	case out.Failure != nil && out.Failure.Permanent():
		rec.Geocode.SetUnresolved(failureReason(out.Failure), out.Failure.Provider, r.at)
		c.Unresolved++
		r.summary.failed(string(out.Failure.Kind))
		r.metrics.Geocode(string(out.Failure.Kind))
		r.log.Warn("pipeline: address unresolved",
			zap.String("key", key), zap.String("kind", string(out.Failure.Kind)), zap.Error(out.Failure))

	default:
		// Service errors leave the record stale for the next run.
		reason := string(geocode.KindServiceError)
		if out.Failure != nil {
			reason = failureReason(out.Failure)
		}
		rec.Geocode.MarkStale(reason)
		c.Stale++
		r.summary.failed(string(geocode.KindServiceError))
		r.metrics.Geocode(string(geocode.KindServiceError))
		r.log.Warn("pipeline: geocode deferred", zap.String("key", key), zap.String("reason", reason))
	}

	if !merge.Changed(before, rec) {
		return nil
	}
	rec.UpdatedAt = r.at
	return r.ds.Replace(key, rec)
}

func addressOf(r model.Record) geocode.AddressInput {
	return geocode.AddressInput{
		Street:  r.Street,
		City:    r.City,
		State:   r.State,
		ZipCode: r.PostalCode,
		Country: r.Country,
	}
}

func failureReason(f *geocode.Failure) string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}
