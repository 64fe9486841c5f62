package model

import (
	"slices"
	"sort"

	"github.com/rotisserie/eris"
)

// MasterDataset maps identity keys to records and indexes them by composite
// key. It is not safe for concurrent use; the orchestrator owns it for the
// duration of a run.
type MasterDataset struct {
	records   map[string]Record
	composite map[string][]string
}

// NewMasterDataset returns an empty dataset.
func NewMasterDataset() *MasterDataset {
	return &MasterDataset{
		records:   make(map[string]Record),
		composite: make(map[string][]string),
	}
}

// Len returns the number of records.
func (d *MasterDataset) Len() int {
	return len(d.records)
}

// Get returns the record stored under key.
func (d *MasterDataset) Get(key string) (Record, bool) {
	r, ok := d.records[key]
	return r, ok
}

// Insert adds a new record under its identity key. It refuses to overwrite an
// existing key.
func (d *MasterDataset) Insert(r Record) error {
	key := r.Key()
	if _, exists := d.records[key]; exists {
		return eris.Errorf("model: duplicate identity key %q", key)
	}
	d.put(key, r)
	return nil
}

// Replace swaps the record stored under oldKey for r, re-keying it when r's
// identity key differs from oldKey. Re-keying onto a key held by another
// record is refused.
func (d *MasterDataset) Replace(oldKey string, r Record) error {
	if _, ok := d.records[oldKey]; !ok {
		return eris.Errorf("model: no record for key %q", oldKey)
	}
	newKey := r.Key()
	if newKey != oldKey {
		if _, exists := d.records[newKey]; exists {
			return eris.Errorf("model: re-key %q onto existing key %q", oldKey, newKey)
		}
	}
	d.Delete(oldKey)
	d.put(newKey, r)
	return nil
}

// Delete removes the record stored under key, if any.
func (d *MasterDataset) Delete(key string) {
	r, ok := d.records[key]
	if !ok {
		return
	}
	delete(d.records, key)

	ck := r.CompositeKey()
	keys := d.composite[ck]
	if i := slices.Index(keys, key); i >= 0 {
		keys = slices.Delete(keys, i, i+1)
	}
	if len(keys) == 0 {
		delete(d.composite, ck)
	} else {
		d.composite[ck] = keys
	}
}

// ByComposite returns the identity keys of all records whose composite key
// equals ck, sorted ascending.
func (d *MasterDataset) ByComposite(ck string) []string {
	return slices.Clone(d.composite[ck])
}

// Keys returns every identity key, sorted ascending.
func (d *MasterDataset) Keys() []string {
	keys := make([]string, 0, len(d.records))
	for k := range d.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Records returns every record ordered by identity key.
func (d *MasterDataset) Records() []Record {
	keys := d.Keys()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.records[k])
	}
	return out
}

// Clone returns a deep copy of the dataset.
func (d *MasterDataset) Clone() *MasterDataset {
	c := NewMasterDataset()
	for k, r := range d.records {
		c.put(k, r.Clone())
	}
	return c
}

func (d *MasterDataset) put(key string, r Record) {
	d.records[key] = r
	ck := r.CompositeKey()
	keys := d.composite[ck]
	if !slices.Contains(keys, key) {
		keys = append(keys, key)
		sort.Strings(keys)
	}
	d.composite[ck] = keys
}
