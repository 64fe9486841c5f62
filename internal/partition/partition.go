// Package partition groups master records into affiliation layers.
package partition

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/normalize"
)

// Layers maps an affiliation label to its records, ordered by identity key.
type Layers map[string][]model.Record

// Partition builds one layer per distinct affiliation label. A record with N
// labels appears in N layers; records without labels appear in none.
func Partition(ds *model.MasterDataset) Layers {
	layers := make(Layers)
	// Records come back sorted by key, so each layer is already ordered.
	for _, r := range ds.Records() {
		for _, label := range r.Affiliations {
			if label == "" {
				continue
			}
			layers[label] = append(layers[label], r)
		}
	}
	return layers
}

// Labels returns the layer labels sorted ascending.
func (l Layers) Labels() []string {
	labels := make([]string, 0, len(l))
	for label := range l {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Size returns the number of layer memberships across all layers.
func (l Layers) Size() int {
	n := 0
	for _, recs := range l {
		n += len(recs)
	}
	return n
}

// FileNames assigns each label a file stem. Labels are taken in sorted order;
// a stem already in use gets "-2", "-3" and so on, compared case-insensitively
// so the result is safe on case-folding filesystems.
func FileNames(labels []string) map[string]string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)

	used := make(map[string]bool, len(sorted))
	out := make(map[string]string, len(sorted))
	for _, label := range sorted {
		if _, done := out[label]; done {
			continue
		}
		base := normalize.FileName(label)
		stem := base
		for n := 2; used[strings.ToLower(stem)]; n++ {
			stem = base + "-" + strconv.Itoa(n)
		}
		used[strings.ToLower(stem)] = true
		out[label] = stem
	}
	return out
}
