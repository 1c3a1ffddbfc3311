package main

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// nextSweep is the first time strictly after now when the sweep schedule is
// due.
func nextSweep(expr string, now time.Time) (time.Time, error) {
	t, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("couldn't schedule sweep %q: %w", expr, err)
	}
	return t, nil
}
