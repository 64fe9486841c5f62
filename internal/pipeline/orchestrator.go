// Package pipeline runs a batch: load the export and the master dataset,
// reconcile, geocode what is stale, partition into affiliation layers, and
// commit every output at once.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/ingest"
	"github.com/dart-isr/donor-geo/internal/match"
	"github.com/dart-isr/donor-geo/internal/metrics"
	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/partition"
	"github.com/dart-isr/donor-geo/internal/store"
	"github.com/dart-isr/donor-geo/pkg/geocode"
)

// Run modes.
const (
	ModeRun    = "run"
	ModeLayers = "layers"
)

// Resolver resolves an address to an outcome. *geocode.CachedClient
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, addr geocode.AddressInput) (geocode.Outcome, error)
}

// Inputs are the paths of one run. Empty SummaryPath, MetricsPath or
// ReviewPath skip those files.
type Inputs struct {
	ExportPath    string
	Sheet         string
	InterestsPath string
	MasterPath    string
	LayersDir     string
	Formats       []string
	ReviewPath    string
	SummaryPath   string
	MetricsPath   string
	DryRun        bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds concurrent geocode lookups. Default 4.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithIngestOptions sets the export column mapping.
func WithIngestOptions(opts ingest.Options) Option {
	return func(o *Orchestrator) { o.ingest = opts }
}

// WithInterestColumns sets the interest file column mapping.
func WithInterestColumns(cols ingest.InterestColumns) Option {
	return func(o *Orchestrator) { o.interests = cols }
}

// WithAbortOnOutage fails the run before anything is written once the
// geocoding service's circuit breaker has opened.
func WithAbortOnOutage(abort bool) Option {
	return func(o *Orchestrator) { o.abortOnOutage = abort }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunID overrides the generated run id.
func WithRunID(newID func() string) Option {
	return func(o *Orchestrator) { o.newRunID = newID }
}

// WithOutput sets where the completion marker is printed. Default stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// Orchestrator drives runs. It holds no per-run state and may be reused for
// consecutive runs, but runs must not overlap.
type Orchestrator struct {
	resolver      Resolver
	workers       int
	ingest        ingest.Options
	interests     ingest.InterestColumns
	abortOnOutage bool
	now           func() time.Time
	newRunID      func() string
	out           io.Writer
}

// New returns an Orchestrator that geocodes through resolver.
func New(resolver Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: resolver,
		workers:  4,
		now:      time.Now,
		newRunID: uuid.NewString,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one invocation.
type run struct {
	in      Inputs
	sm      *machine
	summary *Summary
	metrics *metrics.Metrics
	log     *zap.Logger
	at      time.Time

	ds       *model.MasterDataset
	incoming []model.Record
	held     []match.AmbiguousMatchError
	layers   partition.Layers
}

func (o *Orchestrator) begin(mode string, in Inputs, flow []State) *run {
	at := o.now().UTC()
	id := o.newRunID()
	return &run{
		in: in,
		sm: newMachine(flow),
		summary: &Summary{
			RunID:     id,
			Mode:      mode,
			DryRun:    in.DryRun,
			State:     StateInit,
			StartedAt: at,
		},
		metrics: metrics.New(),
		log:     zap.L().With(zap.String("run_id", id), zap.String("mode", mode)),
		at:      at,
	}
}

// stage runs fn and advances to state when it succeeds.
func (r *run) stage(state State, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		r.log.Error("pipeline: stage failed", zap.String("stage", string(state)), zap.Error(err))
		return err
	}
	if err := r.sm.advance(state); err != nil {
		return err
	}
	took := time.Since(start).Milliseconds()
	r.summary.State = state
	r.summary.Stages = append(r.summary.Stages, StageResult{State: state, DurationMS: took})
	r.log.Info("pipeline: stage complete", zap.String("stage", string(state)), zap.Int64("duration_ms", took))
	return nil
}

// Run reconciles the export in Inputs into the master dataset, geocodes
// stale records, and rewrites the master and layer files. On error nothing
// has been written except the summary.
func (o *Orchestrator) Run(ctx context.Context, in Inputs) (*Summary, error) {
	r := o.begin(ModeRun, in, runFlow)
	r.log.Info("pipeline: run starting", zap.String("export", in.ExportPath), zap.String("master", in.MasterPath))

	err := r.stage(StateLoaded, func() error { return o.load(r) })
	if err == nil {
		err = r.stage(StateMatched, func() error { return o.reconcile(ctx, r) })
	}
	if err == nil {
		err = r.stage(StateMerged, func() error { return o.verifyMerged(r) })
	}
	if err == nil {
		err = r.stage(StateGeocoded, func() error { return o.geocode(ctx, r) })
	}
	if err == nil {
		err = r.stage(StatePartitioned, func() error { return o.partition(r) })
	}
	if err == nil {
		err = r.stage(StateWritten, func() error { return o.write(ctx, r, true) })
	}
	return o.finish(r, err)
}

// RebuildLayers regenerates the layer files from the master dataset without
// reading an export or geocoding.
func (o *Orchestrator) RebuildLayers(ctx context.Context, in Inputs) (*Summary, error) {
	r := o.begin(ModeLayers, in, layersFlow)
	r.log.Info("pipeline: rebuilding layers", zap.String("master", in.MasterPath))

	err := r.stage(StateLoaded, func() error {
		ds, err := store.LoadMaster(in.MasterPath)
		if err != nil {
			return err
		}
		r.ds = ds
		return nil
	})
	if err == nil {
		err = r.stage(StatePartitioned, func() error { return o.partition(r) })
	}
	if err == nil {
		err = r.stage(StateWritten, func() error { return o.write(ctx, r, false) })
	}
	return o.finish(r, err)
}

func (o *Orchestrator) load(r *run) error {
	res, err := ingest.Load(r.in.ExportPath, r.in.Sheet, o.ingest)
	if err != nil {
		return err
	}
	r.summary.BatchID = res.BatchID
	r.log = r.log.With(zap.String("batch_id", res.BatchID))

	for _, skip := range res.Skipped {
		r.summary.Skipped = append(r.summary.Skipped, SkippedRow{Row: skip.Row, Reason: skip.Reason})
		r.metrics.Record(metrics.OutcomeSkipped)
	}
	r.summary.Counts.Skipped = len(res.Skipped)

	for i := range res.Records {
		res.Records[i].SourceBatch = res.BatchID
	}
	if r.in.InterestsPath != "" {
		interests, err := ingest.LoadInterests(r.in.InterestsPath, o.interests)
		if err != nil {
			return err
		}
		r.summary.Counts.InterestsJoined = ingest.ApplyInterests(res.Records, interests)
	}
	r.incoming = res.Records

	ds, err := store.LoadMaster(r.in.MasterPath)
	if err != nil {
		return err
	}
	r.ds = ds
	r.log.Info("pipeline: loaded",
		zap.Int("incoming", len(r.incoming)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("master", ds.Len()),
	)
	return nil
}

func (o *Orchestrator) partition(r *run) error {
	r.layers = partition.Partition(r.ds)
	r.summary.MasterRecords = r.ds.Len()
	stems := partition.FileNames(r.layers.Labels())
	for _, label := range r.layers.Labels() {
		r.summary.Layers = append(r.summary.Layers, LayerSummary{
			Label:   label,
			File:    stems[label] + ".csv",
			Records: len(r.layers[label]),
		})
	}
	r.log.Info("pipeline: partitioned",
		zap.Int("layers", len(r.layers)),
		zap.Int("memberships", r.layers.Size()),
	)
	return nil
}

// write stages and commits the outputs. withMaster is false for layer
// rebuilds, which leave the master file alone.
func (o *Orchestrator) write(ctx context.Context, r *run, withMaster bool) error {
	if r.in.DryRun {
		r.log.Info("pipeline: dry run, outputs not written")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: cancelled before write")
	}

	out := store.Output{
		LayersDir: r.in.LayersDir,
		Layers:    r.layers,
		Formats:   r.in.Formats,
	}
	if withMaster {
		out.MasterPath = r.in.MasterPath
		out.Dataset = r.ds
		out.ReviewPath = r.in.ReviewPath
		out.Ambiguous = r.held
	}

	staged, err := store.Stage(out)
	if err != nil {
		return err
	}
	if err := staged.Commit(); err != nil {
		return err
	}
	r.log.Info("pipeline: outputs committed", zap.Int("layer_files", len(staged.LayerFiles)))
	return nil
}

func (o *Orchestrator) finish(r *run, runErr error) (*Summary, error) {
	finished := o.now().UTC()
	s := r.summary
	s.FinishedAt = finished

	if runErr != nil {
		r.sm.fail()
		s.State = StateFailed
		s.Error = runErr.Error()
		o.report(r)
		return s, runErr
	}

	if err := r.sm.advance(StateDone); err != nil {
		return s, err
	}
	s.State = StateDone
	if !r.in.DryRun {
		r.metrics.Succeeded(finished, finished.Sub(s.StartedAt))
	}
	o.report(r)

	r.log.Info("pipeline: run complete",
		zap.Int("processed", s.Counts.Processed),
		zap.Int("created", s.Counts.Created),
		zap.Int("updated", s.Counts.Updated),
		zap.Int("ambiguous", s.Counts.Ambiguous),
		zap.Int("geocoded", s.Counts.Geocoded),
		zap.Int("stale", s.Counts.Stale),
	)
	if !r.in.DryRun {
		fmt.Fprintln(o.out, CompletionMarker(s.RunID))
	}
	return s, nil
}

// report writes the summary and metrics files. Failures are logged; they
// never change the outcome of the run.
func (o *Orchestrator) report(r *run) {
	if p := r.in.SummaryPath; p != "" {
		if err := WriteSummary(p, r.summary); err != nil {
			r.log.Warn("pipeline: summary not written", zap.Error(err))
		}
	}
	if p := r.in.MetricsPath; p != "" {
		if err := r.metrics.WriteTextfile(p); err != nil {
			r.log.Warn("pipeline: metrics not written", zap.Error(err))
		}
	}
}
