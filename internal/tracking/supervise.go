package tracking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/model"
)

// NewBackOff returns the restart policy used by Supervise when none is given:
// exponential between initial and max, retrying forever.
func NewBackOff(initial, max time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if initial > 0 {
		bo.InitialInterval = initial
	}
	if max > 0 {
		bo.MaxInterval = max
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Supervise keeps t tracking until ctx is cancelled. After every failure it
// clears the error and restarts once the backoff interval has passed. The
// interval resets as soon as a restarted session delivers a sample.
//
// Supervise blocks; run it on its own goroutine.
func Supervise(ctx context.Context, t *Tracker, onSample func(model.Observation), b backoff.BackOff, log logging.Logger) {
	log = logging.OrNoop(log)
	if b == nil {
		b = NewBackOff(0, 0)
	}

	var healthy atomic.Bool
	sample := func(o model.Observation) {
		healthy.Store(true)
		if onSample != nil {
			onSample(o)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := t.Start(ctx, sample, nil)
		if err == nil {
			select {
			case <-ctx.Done():
				sub.Stop()
				return
			case <-sub.Done():
			}
			if ctx.Err() != nil {
				return
			}
		}

		_, reason := t.State()
		t.ClearError()
		if healthy.Swap(false) {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Error(ctx, "giving up on position tracking", logging.String("reason", string(reason)))
			return
		}
		log.Info(ctx, "restarting position tracking",
			logging.String("reason", string(reason)),
			logging.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
