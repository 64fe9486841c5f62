package geocode

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/normalize"
)

// EntryStatus is the cached outcome for an address.
type EntryStatus string

const (
	// EntryResolved carries coordinates.
	EntryResolved EntryStatus = "resolved"
	// EntryNotFound remembers that the service had no match.
	EntryNotFound EntryStatus = "not_found"
	// EntryInvalidInput remembers that the address was unusable.
	EntryInvalidInput EntryStatus = "invalid_input"
)

// Entry is one cached geocode outcome. Service errors are never cached.
type Entry struct {
	Status    EntryStatus
	Latitude  float64
	Longitude float64
	Source    string
	Quality   string
	Reason    string
	CachedAt  time.Time
}

// Resolved reports whether the entry carries coordinates.
func (e Entry) Resolved() bool { return e.Status == EntryResolved }

func (e Entry) validate() error {
	switch e.Status {
	case EntryResolved, EntryNotFound, EntryInvalidInput:
		return nil
	default:
		return eris.Errorf("geocode: cannot cache status %q", e.Status)
	}
}

// CacheStore persists cache entries keyed by normalized address.
type CacheStore interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Counts(ctx context.Context) (map[EntryStatus]int, error)
	Close() error
}

// CacheKey returns the cache key for addr: the same normalized address the
// record matcher compares, country included.
func CacheKey(addr AddressInput) string {
	return normalize.Address(addr.Street, addr.City, addr.State, addr.ZipCode, addr.Country)
}

// Cache maps normalized addresses to geocode outcomes. Entries never expire;
// Forget removes one explicitly.
type Cache struct {
	store CacheStore
}

// NewCache wraps store.
func NewCache(store CacheStore) *Cache {
	return &Cache{store: store}
}

// Lookup returns the cached entry for key.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return Entry{}, false, eris.Wrapf(err, "geocode: cache lookup %q", key)
	}
	if ok {
		zap.L().Debug("geocode cache hit", zap.String("address", key), zap.String("status", string(e.Status)))
	}
	return e, ok, nil
}

// Store records an outcome for key, replacing any earlier entry.
func (c *Cache) Store(ctx context.Context, key string, e Entry) error {
	if key == "" {
		return eris.New("geocode: empty cache key")
	}
	if err := e.validate(); err != nil {
		return err
	}
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	e.CachedAt = e.CachedAt.UTC()
	if err := c.store.Put(ctx, key, e); err != nil {
		return eris.Wrapf(err, "geocode: cache store %q", key)
	}
	return nil
}

// Forget removes the entry for key so the next lookup reaches the service.
// It reports whether an entry existed.
func (c *Cache) Forget(ctx context.Context, key string) (bool, error) {
	ok, err := c.store.Delete(ctx, key)
	if err != nil {
		return false, eris.Wrapf(err, "geocode: cache forget %q", key)
	}
	return ok, nil
}

// Stats counts entries per status.
func (c *Cache) Stats(ctx context.Context) (map[EntryStatus]int, error) {
	counts, err := c.store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: cache stats")
	}
	return counts, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// MemoryStore is an in-process CacheStore, used for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get implements CacheStore.
func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

// Put implements CacheStore.
func (m *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

// Delete implements CacheStore.
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

// Counts implements CacheStore.
func (m *MemoryStore) Counts(_ context.Context) (map[EntryStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[EntryStatus]int)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// Keys returns the cached keys, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close implements CacheStore.
func (m *MemoryStore) Close() error { return nil }
