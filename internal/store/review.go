package store

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/dart-isr/donor-geo/internal/match"
)

// ReviewHeader is the column layout of the ambiguous-match review file.
var ReviewHeader = []string{"row", "id", "name", "street", "city", "state", "postal_code", "affiliations", "candidates"}

// WriteReview lists the incoming rows held out as ambiguous so an operator
// can resolve them by hand.
func WriteReview(w io.Writer, held []match.AmbiguousMatchError) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReviewHeader); err != nil {
		return eris.Wrap(err, "store: write review header")
	}
	for _, h := range held {
		in := h.Incoming
		row := []string{
			strconv.Itoa(in.Row), in.ID, in.Name, in.Street, in.City, in.State, in.PostalCode,
			joinList(in.Affiliations),
			joinList(h.Candidates),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "store: write review row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "store: flush review")
}
