// Package position provides the position sources the location tracker
// subscribes to: a push source fed by clients over HTTP and a simulated
// source that walks scripted waypoints on a simulation clock.
package position

import (
	"context"
	"time"

	"github.com/signalsfoundry/geofence/model"
)

// Options tune a position request.
type Options struct {
	// HighAccuracy asks the source for its most precise fix.
	HighAccuracy bool
	// Timeout bounds how long a one-shot request waits. Zero means no bound
	// other than the context.
	Timeout time.Duration
	// MaximumAge is the oldest cached sample the caller accepts. Zero forces
	// a fresh reading.
	MaximumAge time.Duration
}

// WatchID identifies a continuous subscription on a Source.
type WatchID uint64

// Source is the position capability consumed by the tracker.
//
// Errors reported by a Source wrap one of the model.ErrPosition* sentinels so
// they can be classified with model.PositionErrorKind.
type Source interface {
	// CurrentPosition performs a one-shot read.
	CurrentPosition(ctx context.Context, opts Options) (model.Coordinate, error)
	// Watch opens a continuous subscription. onSample and onError may be
	// called from any goroutine.
	Watch(opts Options, onSample func(model.Coordinate), onError func(error)) (WatchID, error)
	// ClearWatch cancels a subscription. Unknown ids are ignored.
	ClearWatch(id WatchID)
}

type watcher struct {
	onSample func(model.Coordinate)
	onError  func(error)
}
