// Package store persists the master dataset and the derived layer files.
//
// Outputs are staged next to their final location and renamed into place
// only after everything has been written, so a failed run leaves the
// previous master and layers untouched.
package store

import "fmt"

// PersistenceError is returned when the master dataset or an output file
// cannot be read or written. It aborts the run.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Path: path, Err: err}
}
