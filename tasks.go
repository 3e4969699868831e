package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// potential simulation types
const (
	SimulationView = "VIEW"
	SimulationSun  = "SUN"
)

/*
UnitRunner computes one potential unit.
*/
type UnitRunner interface {
	RunUnit(ctx context.Context, job PotentialJob) error
}

/*
Orchestrator schedules potential units, hands them to workers and tracks their progress.
A failing unit is recorded as FAILURE and never stops the batch.
*/
type Orchestrator struct {
	Grid              TileGrid
	Progress          *ProgressStore
	Queue             JobQueue
	Runner            UnitRunner
	Concurrency       int
	ProcessingTimeout time.Duration
	Metrics           *EngineMetrics
	Now               func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

/*
enqueue creates PENDING records for the units and publishes one job per unit.
*/
func (o *Orchestrator) enqueue(ctx context.Context, runID, family string, keys []UnitKey) (int, error) {
	created, err := o.Progress.CreatePending(ctx, keys, o.now())
	if err != nil {
		return 0, err
	}
	jobs := make([]PotentialJob, 0, len(keys))
	for _, key := range keys {
		jobs = append(jobs, PotentialJob{RunID: runID, Unit: key, SourceFamily: family})
	}
	err = o.Queue.Publish(ctx, jobs...)
	if err != nil {
		return 0, err
	}
	slog.Info("potential units enqueued", "run", runID, "jobs", len(jobs), "new", created)
	return len(jobs), nil
}

/*
unitKeys returns one unit key per simulation type and floor of a sub-tile.
*/
func unitKeys(location TileLocation, simulations []string, floors []int) []UnitKey {
	keys := make([]UnitKey, 0, len(simulations)*len(floors))
	for _, simulation := range simulations {
		for _, floor := range floors {
			keys = append(keys, UnitKey{TileIndex: location.Index, SubIndex: location.SubIndex, Simulation: simulation, Floor: floor})
		}
	}
	return keys
}

/*
PotentialSimulate triggers the units of the sub-tile containing (x, y) (grid CRS),
one per simulation type and floor. Locations outside the grid fail with ErrOutsideGrid.
*/
func (o *Orchestrator) PotentialSimulate(ctx context.Context, x, y float64, simulations []string, floors []int, family string) (string, int, error) {
	location, err := o.Grid.Locate(x, y)
	if err != nil {
		return "", 0, err
	}
	runID := uuid.NewString()
	n, err := o.enqueue(ctx, runID, family, unitKeys(location, simulations, floors))
	return runID, n, err
}

/*
Schedule triggers all units of the tile index range [first, last].
*/
func (o *Orchestrator) Schedule(ctx context.Context, first, last int, simulations []string, floors []int, family string) (string, int, error) {
	if first < 0 || last >= o.Grid.Count() || first > last {
		return "", 0, fmt.Errorf("%w: tile range %d-%d (grid has %d tiles)", ErrOutsideGrid, first, last, o.Grid.Count())
	}
	runID := uuid.NewString()
	var keys []UnitKey
	for location := range o.Grid.Tiles(first, last) {
		keys = append(keys, unitKeys(location, simulations, floors)...)
	}
	n, err := o.enqueue(ctx, runID, family, keys)
	return runID, n, err
}

/*
Rerun re-enqueues FAILURE units and PROCESSING units older than the processing timeout.
*/
func (o *Orchestrator) Rerun(ctx context.Context, family string) (string, int, error) {
	now := o.now()
	keys, err := o.Progress.Rerunnable(ctx, o.ProcessingTimeout, now)
	if err != nil {
		return "", 0, err
	}
	if len(keys) == 0 {
		return "", 0, nil
	}
	runID := uuid.NewString()
	jobs := make([]PotentialJob, 0, len(keys))
	for _, key := range keys {
		err = o.Progress.SetState(ctx, key, UnitPending, "", now)
		if err != nil {
			return "", 0, err
		}
		jobs = append(jobs, PotentialJob{RunID: runID, Unit: key, SourceFamily: family})
	}
	err = o.Queue.Publish(ctx, jobs...)
	if err != nil {
		return "", 0, err
	}
	slog.Info("potential units re-enqueued", "run", runID, "jobs", len(jobs))
	return runID, len(jobs), nil
}

/*
Work consumes jobs with Concurrency parallel consumers until ctx is done.
*/
func (o *Orchestrator) Work(ctx context.Context) error {
	concurrency := max(o.Concurrency, 1)
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.Queue.Consume(ctx, o.processUnit)
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}

/*
processUnit runs one unit unless it already succeeded and records the outcome.
Only progress store errors are returned.
*/
func (o *Orchestrator) processUnit(ctx context.Context, job PotentialJob) error {
	ctx, span := tracer.Start(ctx, "potential.unit")
	defer span.End()
	span.SetAttributes(attribute.String("unit", job.Unit.String()), attribute.String("run", job.RunID))

	claimed, err := o.Progress.Claim(ctx, job.Unit, job.RunID, o.now(), o.ProcessingTimeout)
	if err != nil {
		return err
	}
	if !claimed {
		slog.Debug("skipping successful or busy unit", "unit", job.Unit.String(), "run", job.RunID)
		return nil
	}

	start := time.Now()
	state, payload := UnitSuccess, ""
	err = o.runSafely(ctx, job)
	if err != nil {
		state, payload = UnitFailure, err.Error()
		span.RecordError(err)
		slog.Error("potential unit failed", "unit", job.Unit.String(), "run", job.RunID, "error", err)
	}
	o.Metrics.ObserveUnit(job.Unit.Simulation, state, time.Since(start))
	return o.Progress.SetState(context.WithoutCancel(ctx), job.Unit, state, payload, o.now())
}

/*
runSafely turns a panic of the runner into an error of the unit.
*/
func (o *Orchestrator) runSafely(ctx context.Context, job PotentialJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in unit %s: %v", job.Unit, r)
		}
	}()
	return o.Runner.RunUnit(ctx, job)
}
