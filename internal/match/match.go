// Package match classifies an incoming record against the master dataset.
package match

import (
	"fmt"
	"strings"

	"github.com/dart-isr/donor-geo/internal/model"
)

// Kind is the classification of an incoming record.
type Kind int

const (
	// NoMatch means the record is new.
	NoMatch Kind = iota
	// ExactMatch means exactly one existing record is the same entity.
	ExactMatch
	// Ambiguous means several existing records could be the same entity.
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case ExactMatch:
		return "exact_match"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Result is the outcome of Match.
type Result struct {
	Kind Kind
	// Key is the identity key of the matched record for ExactMatch.
	Key string
	// Candidates holds the identity keys considered, sorted ascending.
	Candidates []string
}

// AmbiguousMatchError records an incoming row that matched several existing
// records. The row is held out for review rather than merged.
type AmbiguousMatchError struct {
	Incoming   model.Record
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("match: row %d (%s) matches %d records: %s",
		e.Incoming.Row, e.Incoming.Name, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// Match classifies incoming against ds. A stable ID present in ds is an
// exact match. Otherwise records with the same normalized name and address
// are candidates, except those carrying a different non-empty ID.
func Match(incoming model.Record, ds *model.MasterDataset) Result {
	id := strings.TrimSpace(incoming.ID)
	if id != "" {
		if _, ok := ds.Get(incoming.Key()); ok {
			return Result{Kind: ExactMatch, Key: incoming.Key(), Candidates: []string{incoming.Key()}}
		}
	}

	var candidates []string
	for _, key := range ds.ByComposite(incoming.CompositeKey()) {
		existing, _ := ds.Get(key)
		if other := strings.TrimSpace(existing.ID); id != "" && other != "" && other != id {
			continue
		}
		candidates = append(candidates, key)
	}

	switch len(candidates) {
	case 0:
		return Result{Kind: NoMatch}
	case 1:
		return Result{Kind: ExactMatch, Key: candidates[0], Candidates: candidates}
	default:
		return Result{Kind: Ambiguous, Candidates: candidates}
	}
}
