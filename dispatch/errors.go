package dispatch

import (
	"fmt"
	"sort"

	"github.com/resumable/uploadengine/internal/errutil"
)

// AggregateError reports which chunk indices failed within a dispatcher
// run that tripped the error threshold, instead of just "some chunks
// failed." Adapted from internal/errutil.MultiError.
type AggregateError struct {
	Indices []int
	errs    errutil.MultiError
}

// NewAggregateError builds an AggregateError from the failed indices
// observed by the aggregator. Indices is sorted ascending.
func NewAggregateError(indices []int) *AggregateError {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	var errs errutil.MultiError
	for _, i := range sorted {
		errutil.AppendErr(&errs, fmt.Errorf("chunk %d failed", i))
	}
	return &AggregateError{Indices: sorted, errs: errs}
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%d chunks failed: %s", len(e.Indices), e.errs.Error())
}

// Unwrap exposes the per-chunk errors to errors.Is/errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.errs.Unwrap()
}
