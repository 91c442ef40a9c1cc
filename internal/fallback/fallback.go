// Package fallback runs an ordered list of candidates and keeps the first
// one that succeeds. Capture backends and recording sinks share it.
package fallback

import (
	"errors"
	"fmt"
)

// ErrNoCandidates is returned when First is called with an empty list.
var ErrNoCandidates = errors.New("no candidates")

// First calls try for each candidate in order and returns the first
// successful result. If every candidate fails, the returned error joins
// each candidate's failure, labelled by its position.
func First[C, R any](candidates []C, try func(C) (R, error)) (R, error) {
	var zero R
	if len(candidates) == 0 {
		return zero, ErrNoCandidates
	}

	errs := make([]error, 0, len(candidates))
	for i, c := range candidates {
		r, err := try(c)
		if err == nil {
			return r, nil
		}
		errs = append(errs, fmt.Errorf("candidate %d: %w", i, err))
	}
	return zero, errors.Join(errs...)
}
