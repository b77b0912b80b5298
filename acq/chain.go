package acq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Procedure is one step of a run.  Invoking a composed chain invokes the
// outermost driver, which invokes its continuation once per value.
type Procedure func(ctx context.Context) error

// Driver iterates one sweep dimension
type Driver interface {
	// Kind is the dimension the driver sweeps
	Kind() Kind

	// Run sets the device to each value in turn and calls next after each.
	// The device is restored to its pre-sweep value when Run returns, unless
	// the run was cancelled.
	Run(ctx context.Context, next Procedure) error
}

// Compose folds the drivers from the right onto the sampler, so that the
// continuation of driver i is drivers i+1..n followed by the sampler.  With no
// drivers the chain is the sampler itself.
func Compose(drivers []Driver, sampler Procedure) Procedure {
	proc := sampler
	for i := len(drivers) - 1; i >= 0; i-- {
		d, next := drivers[i], proc
		proc = func(ctx context.Context) error {
			return d.Run(ctx, next)
		}
	}
	return proc
}

// cancelled returns ErrCancelled once the context is done
func cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// sleep waits for d, returning early with ErrCancelled if ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return cancelled(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-t.C:
		return nil
	}
}

// restore runs fn as the last act of a driver, except after cancellation.  A
// restoration failure is joined to the error the iteration returned.  A skipped
// restoration leaves ErrCancelled in err, so a run cancelled after its last
// frame is not reported as complete.
func restore(ctx context.Context, err *error, what string, fn func() error) {
	if errors.Is(*err, ErrCancelled) {
		return
	}
	if ctx.Err() != nil {
		if *err == nil {
			*err = ErrCancelled
		}
		return
	}
	if rerr := fn(); rerr != nil {
		*err = errors.Join(*err, fmt.Errorf("acq: restoring %s: %w", what, rerr))
	}
}
