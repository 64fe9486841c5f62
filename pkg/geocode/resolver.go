package geocode

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Outcome is the resolution of one address: a Result or a Failure.
type Outcome struct {
	Key      string
	Result   *Result
	Failure  *Failure
	CacheHit bool
}

// Resolved reports whether the outcome carries coordinates.
func (o Outcome) Resolved() bool { return o.Result != nil }

// CachedClient answers from the cache when it can and only calls the
// geocoding service on a miss. Permanent outcomes are stored; service errors
// are not, so those addresses are retried on the next run.
type CachedClient struct {
	client Client
	cache  *Cache
	group  singleflight.Group
	now    func() time.Time
}

// NewCachedClient wraps client with cache.
func NewCachedClient(client Client, cache *Cache) *CachedClient {
	return &CachedClient{client: client, cache: cache, now: time.Now}
}

// Resolve returns the outcome for addr. The error is non-nil only when ctx is
// done or the cache cannot be read; geocode failures are reported in the
// Outcome. Concurrent calls for the same normalized address share one lookup.
func (c *CachedClient) Resolve(ctx context.Context, addr AddressInput) (Outcome, error) {
	key := CacheKey(addr)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.resolve(ctx, key, addr)
	})
	if err != nil {
		return Outcome{Key: key}, err
	}
	return v.(Outcome), nil
}

func (c *CachedClient) resolve(ctx context.Context, key string, addr AddressInput) (Outcome, error) {
	if key != "" {
		e, ok, err := c.cache.Lookup(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			out := outcomeFromEntry(e)
			out.Key = key
			out.CacheHit = true
			return out, nil
		}
	}

	res, err := c.client.Geocode(ctx, addr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}

	out := Outcome{Key: key}
	var entry Entry
	if err != nil {
		f, _ := AsFailure(err)
		out.Failure = f
		if !f.Permanent() {
			return out, nil
		}
		entry = Entry{Status: EntryStatus(f.Kind), Source: f.Provider, Reason: failureReason(f)}
	} else {
		out.Result = res
		entry = Entry{
			Status:    EntryResolved,
			Latitude:  res.Latitude,
			Longitude: res.Longitude,
			Source:    res.Source,
			Quality:   res.Quality,
		}
	}

	if key != "" {
		entry.CachedAt = c.now()
		if err := c.cache.Store(ctx, key, entry); err != nil {
			zap.L().Warn("geocode: cache write failed", zap.String("address", key), zap.Error(err))
		}
	}
	return out, nil
}

func outcomeFromEntry(e Entry) Outcome {
	if e.Resolved() {
		return Outcome{Result: &Result{
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Source:    e.Source,
			Quality:   e.Quality,
		}}
	}
	var cause error
	if e.Reason != "" {
		cause = errors.New(e.Reason)
	}
	return Outcome{Failure: &Failure{Kind: FailureKind(e.Status), Provider: e.Source, Err: cause}}
}

func failureReason(f *Failure) string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}
