package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dart-isr/donor-geo/internal/ingest"
	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/resilience"
	"github.com/dart-isr/donor-geo/internal/store"
	"github.com/dart-isr/donor-geo/pkg/geocode"
)

var exportHeader = []string{
	"Constituent LookupID", "Name", "Home Address", "Home City", "Home State", "Home Zip", "Constituent Affiliation",
}

var testColumns = ingest.Columns{
	ID:          "Constituent LookupID",
	Name:        "Name",
	Street:      "Home Address",
	City:        "Home City",
	State:       "Home State",
	PostalCode:  "Home Zip",
	Country:     "Home Country",
	Affiliation: "Constituent Affiliation",
}

// stubGeocoder is a geocode.Provider that counts calls and answers from
// fail, or with a fixed point.
type stubGeocoder struct {
	mu    sync.Mutex
	calls int
	fail  func(addr geocode.AddressInput) error
}

func (s *stubGeocoder) Name() string { return "stub" }

func (s *stubGeocoder) Geocode(_ context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		if err := fail(addr); err != nil {
			return nil, err
		}
	}
	return &geocode.Result{Latitude: 42.2808, Longitude: -83.743, Source: "stub", Quality: "rooftop"}, nil
}

func (s *stubGeocoder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubGeocoder) setFail(fail func(addr geocode.AddressInput) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

type harness struct {
	t      *testing.T
	dir    string
	geo    *stubGeocoder
	cache  *geocode.Cache
	out    bytes.Buffer
	clock  time.Time
	runs   int
	opts   []Option
	dryRun bool
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return &harness{
		t:     t,
		dir:   t.TempDir(),
		geo:   &stubGeocoder{},
		cache: geocode.NewCache(geocode.NewMemoryStore()),
		clock: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		opts:  opts,
	}
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *harness) inputs(export string) Inputs {
	return Inputs{
		ExportPath:  h.path(export),
		MasterPath:  h.path("master.csv"),
		LayersDir:   h.path("layers"),
		ReviewPath:  h.path("ambiguous.csv"),
		SummaryPath: h.path("summary.yaml"),
		MetricsPath: h.path("donorgeo.prom"),
		DryRun:      h.dryRun,
	}
}

func (h *harness) orchestrator() *Orchestrator {
	h.runs++
	n := h.runs
	opts := []Option{
		WithIngestOptions(ingest.Options{Columns: testColumns}),
		WithClock(func() time.Time { return h.clock }),
		WithRunID(func() string { return "run-" + string(rune('0'+n)) }),
		WithOutput(&h.out),
		WithWorkers(2),
	}
	client := geocode.NewClient(h.geo,
		geocode.WithRateLimit(1000, 100),
		geocode.WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
	)
	return New(geocode.NewCachedClient(client, h.cache), append(opts, h.opts...)...)
}

func (h *harness) writeExport(name string, rows ...[]string) {
	h.t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(h.t, w.Write(exportHeader))
	require.NoError(h.t, w.WriteAll(rows))
	require.NoError(h.t, os.WriteFile(h.path(name), buf.Bytes(), 0o644))
}

func (h *harness) run(export string) (*Summary, error) {
	return h.orchestrator().Run(context.Background(), h.inputs(export))
}

func (h *harness) mustRun(export string) *Summary {
	h.t.Helper()
	s, err := h.run(export)
	require.NoError(h.t, err)
	return s
}

func (h *harness) master() *model.MasterDataset {
	h.t.Helper()
	ds, err := store.LoadMaster(h.path("master.csv"))
	require.NoError(h.t, err)
	return ds
}

func (h *harness) readFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(h.path(rel))
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) exists(rel string) bool {
	_, err := os.Stat(h.path(rel))
	return err == nil
}

func janeRow(affiliation string) []string {
	return []string{"8-1", "Jane Doe", "123 Elm St", "Ann Arbor", "MI", "48104", affiliation}
}
