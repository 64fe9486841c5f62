package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/match"
	"github.com/dart-isr/donor-geo/internal/merge"
	"github.com/dart-isr/donor-geo/internal/metrics"
	"github.com/dart-isr/donor-geo/internal/model"
)

// reconcile matches and merges incoming rows in file order. Each row is
// matched against the dataset as left by the rows before it, so duplicates
// within one export collapse into a single record.
func (o *Orchestrator) reconcile(ctx context.Context, r *run) error {
	c := &r.summary.Counts
	for _, in := range r.incoming {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: reconcile cancelled")
		}
		c.Processed++

		res := match.Match(in, r.ds)
		switch res.Kind {
		case match.Ambiguous:
			o.holdOut(r, in, res.Candidates)

		case match.NoMatch:
			rec := merge.Merge(nil, in, r.at)
			if err := r.ds.Insert(rec); err != nil {
				return eris.Wrapf(err, "pipeline: insert row %d", in.Row)
			}
			c.Created++
			r.metrics.Record(metrics.OutcomeCreated)

		case match.ExactMatch:
			existing, ok := r.ds.Get(res.Key)
			if !ok {
				return eris.Errorf("pipeline: matched key %q missing from dataset", res.Key)
			}
			c.Matched++
			merged := merge.Merge(&existing, in, r.at)
			if !merge.Changed(existing, merged) {
				c.Unchanged++
				r.metrics.Record(metrics.OutcomeUnchanged)
				continue
			}
			if err := r.ds.Replace(res.Key, merged); err != nil {
				// Re-keying onto a key held by another record.
				o.holdOut(r, in, []string{res.Key, merged.Key()})
				c.Matched--
				continue
			}
			if merged.Key() != res.Key {
				r.log.Info("pipeline: record re-keyed", zap.String("from", res.Key), zap.String("to", merged.Key()))
			}
			c.Updated++
			r.metrics.Record(metrics.OutcomeUpdated)
		}
	}
	return nil
}

func (o *Orchestrator) holdOut(r *run, in model.Record, candidates []string) {
	r.held = append(r.held, match.AmbiguousMatchError{Incoming: in, Candidates: candidates})
	r.summary.Ambiguous = append(r.summary.Ambiguous, AmbiguousRow{Row: in.Row, Name: in.Name, Candidates: candidates})
	r.summary.Counts.Ambiguous++
	r.metrics.Record(metrics.OutcomeAmbiguous)
	r.log.Warn("pipeline: ambiguous match held for review",
		zap.Int("row", in.Row),
		zap.String("name", in.Name),
		zap.Strings("candidates", candidates),
	)
}

// verifyMerged checks the merged dataset before anything is geocoded or
// written: every record sits under its own identity key and its geocode
// fields agree.
func (o *Orchestrator) verifyMerged(r *run) error {
	for _, key := range r.ds.Keys() {
		rec, _ := r.ds.Get(key)
		if rec.Key() != key {
			return eris.Errorf("pipeline: record %q stored under %q", rec.Key(), key)
		}
		if !rec.Geocode.Consistent() {
			return eris.Errorf("pipeline: record %q has inconsistent geocode fields", key)
		}
	}
	return nil
}
