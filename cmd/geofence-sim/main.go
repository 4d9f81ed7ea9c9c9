// Command geofence-sim walks a simulated device through a set of areas on a
// time controller and prints every observation and registration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/internal/presence"
	"github.com/signalsfoundry/geofence/internal/tracking"
	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

// demoAreas sit around the default map centre, side by side along a street.
var demoAreas = []model.AreaSpec{
	{
		Name:        "Finance",
		Description: "Ground floor, east wing",
		Boundary: []model.Coordinate{
			{Lat: 18.0250, Lng: -102.2075}, {Lat: 18.0250, Lng: -102.2070},
			{Lat: 18.0255, Lng: -102.2070}, {Lat: 18.0255, Lng: -102.2075},
		},
	},
	{
		Name:        "Records",
		Description: "Archive annex",
		Boundary: []model.Coordinate{
			{Lat: 18.0250, Lng: -102.2065}, {Lat: 18.0250, Lng: -102.2060},
			{Lat: 18.0255, Lng: -102.2060}, {Lat: 18.0255, Lng: -102.2065},
		},
	},
}

type options struct {
	Duration  time.Duration
	Tick      time.Duration
	Mode      timectrl.Mode
	AreasFile string
	Visitor   string
	Leg       time.Duration
	Start     time.Time
}

type summary struct {
	Samples       int
	Inside        int
	Registrations []model.Registration
}

func main() {
	duration := flag.Duration("duration", 2*time.Minute, "total simulated duration")
	tick := flag.Duration("tick", time.Second, "tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	areasFile := flag.String("areas", "", "YAML file of areas (defaults to a built-in pair)")
	visitor := flag.String("visitor", "sim-visitor", "name registered on entering each area")
	leg := flag.Duration("leg", 20*time.Second, "simulated time spent walking between waypoints")
	flag.Parse()

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := simulate(ctx, options{
		Duration:  *duration,
		Tick:      *tick,
		Mode:      mode,
		AreasFile: *areasFile,
		Visitor:   *visitor,
		Leg:       *leg,
		Start:     time.Now().UTC(),
	}, os.Stdout, logging.NewFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulation complete: %d samples, %d inside an area, %d registrations.\n",
		sum.Samples, sum.Inside, len(sum.Registrations))
}

func loadRegistry(path string) (*core.AreaRegistry, error) {
	reg := core.NewAreaRegistry()
	if path == "" {
		for _, spec := range demoAreas {
			if _, err := reg.Add(spec); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := core.LoadAreas(reg, f); err != nil {
		return nil, err
	}
	return reg, nil
}

// route starts outside every area, then passes through the centre of each
// usable area and out again.
func route(areas []model.Area) []model.Coordinate {
	var stops []model.Coordinate
	for _, a := range areas {
		b, ok := core.Bounds(a.Boundary)
		if !ok {
			continue
		}
		c := b.Center()
		stops = append(stops, model.Coordinate{Lat: c.Y(), Lng: c.X()})
	}
	if len(stops) == 0 {
		return nil
	}
	if b, ok := core.Bounds(boundaries(areas)...); ok {
		outside := model.Coordinate{Lat: b.Min.Y() - (b.Max.Y() - b.Min.Y()), Lng: b.Min.X()}
		stops = append([]model.Coordinate{outside}, stops...)
		stops = append(stops, outside)
	}
	return stops
}

func boundaries(areas []model.Area) [][]model.Coordinate {
	out := make([][]model.Coordinate, len(areas))
	for i, a := range areas {
		out[i] = a.Boundary
	}
	return out
}

func simulate(ctx context.Context, opts options, out io.Writer, log logging.Logger) (summary, error) {
	reg, err := loadRegistry(opts.AreasFile)
	if err != nil {
		return summary{}, fmt.Errorf("load areas: %w", err)
	}
	waypoints := route(reg.List())
	if len(waypoints) == 0 {
		return summary{}, fmt.Errorf("no area has a usable boundary")
	}

	tc := timectrl.NewTimeController(opts.Start, opts.Tick, opts.Mode)
	source := position.NewSimulatedSource(tc, position.WaypointMotion{
		Start:     opts.Start,
		Waypoints: waypoints,
		Leg:       opts.Leg,
	})

	active := make(chan struct{})
	var activeOnce sync.Once
	tracker := tracking.New(source, core.NewZoneResolver(reg),
		tracking.WithClock(tc),
		tracking.WithLogger(log),
		tracking.WithStateListener(func(s tracking.State) {
			if s == tracking.Active {
				activeOnce.Do(func() { close(active) })
			}
		}),
	)
	// An accelerated clock can run ahead of the dispatcher by many ticks, so
	// observation age is only checked in real time.
	maxAge := time.Duration(0)
	if opts.Mode == timectrl.RealTime {
		maxAge = 10 * opts.Tick
	}
	workflow := presence.NewWorkflow(presence.NewLog(),
		presence.WithClock(tc),
		presence.WithMaxObservationAge(maxAge),
		presence.WithLogger(log),
	)

	var (
		mu      sync.Mutex
		sum     summary
		current int64
	)
	onSample := func(obs model.Observation) {
		workflow.Observe(obs)

		mu.Lock()
		defer mu.Unlock()
		sum.Samples++
		where := "outside"
		if obs.Inside() {
			sum.Inside++
			where = obs.Area.Name
		}
		fmt.Fprintf(out, "[%s] %s -> %s\n", obs.Timestamp.Format(time.RFC3339), obs.Coordinate, where)

		areaID := int64(0)
		if obs.Inside() {
			areaID = obs.Area.ID
		}
		if areaID == current {
			return
		}
		current = areaID
		if areaID == 0 {
			return
		}
		r, err := workflow.Submit(ctx, opts.Visitor, obs)
		if err != nil {
			fmt.Fprintf(out, "  registration refused: %v\n", err)
			return
		}
		sum.Registrations = append(sum.Registrations, r)
		fmt.Fprintf(out, "  registered %s in %s (%s)\n", r.Name, r.AreaName, r.ID)
	}
	onError := func(err error) {
		fmt.Fprintf(out, "tracking failed: %v\n", err)
	}

	sub, err := tracker.Start(ctx, onSample, onError)
	if err != nil {
		return summary{}, err
	}
	select {
	case <-active:
	case <-sub.Done():
		return summary{}, fmt.Errorf("tracker stopped before the first sample")
	case <-ctx.Done():
		sub.Stop()
		return summary{}, ctx.Err()
	}

	fmt.Fprintf(out, "Starting simulation: duration=%s, tick=%s, mode=%v, areas=%d\n",
		opts.Duration, opts.Tick, opts.Mode, len(reg.Snapshot().Areas))
	<-tc.Start(ctx, opts.Duration)
	sub.Stop()

	mu.Lock()
	defer mu.Unlock()
	return sum, nil
}
