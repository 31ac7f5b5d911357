// Package utils contains small helpers shared across the stereo packages.
package utils

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor is the number of workers ParallelForEachRow splits rows across.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachRow splits [0, rows) into contiguous bands, one per worker, and calls f for
// every row. f must only write to state owned by its row. Returns once every row is done.
func ParallelForEachRow(rows int, f func(y int)) {
	if rows <= 0 {
		return
	}
	workers := ParallelFactor
	if workers > rows {
		workers = rows
	}
	band := (rows + workers - 1) / workers

	var group errgroup.Group
	for start := 0; start < rows; start += band {
		from, to := start, min(start+band, rows)
		group.Go(func() error {
			for y := from; y < to; y++ {
				f(y)
			}
			return nil
		})
	}
	//nolint:errcheck
	group.Wait()
}

// SimpleFunc is a unit of work for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs every function on its own goroutine and returns the wall time and the first
// error. That error cancels the context the others run with. A panic is reported as an error.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	group, ctx := errgroup.WithContext(ctx)
	for _, f := range fs {
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in parallel function: %v", r)
				}
			}()
			return f(ctx)
		})
	}
	err := group.Wait()
	return time.Since(start), err
}

// SelectContextOrWait waits for the duration or until the context is done. It returns true if the
// full duration elapsed.
func SelectContextOrWait(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
