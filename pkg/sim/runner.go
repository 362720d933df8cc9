package sim

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/g-uva/sgesim/pkg/core"
)

// DefaultMaxTicks bounds a run whose jobs can never all finish.
const DefaultMaxTicks = 1_000_000

// Runner feeds a workload through a scheduler under a strategy, one tick at
// a time, until every job has finished.
type Runner struct {
	Scheduler  *core.Scheduler
	Strategy   Strategy
	TickLength int64
	MaxTicks   int
	Log        logrus.FieldLogger
	Tracer     trace.Tracer

	progress rate.Sometimes
}

// Result summarises one run.
type Result struct {
	Strategy    string
	Capacity    int
	Ticks       int
	Makespan    int64
	Completed   bool
	PeakRunning int
	// BusySlotTime sums, over ticks, the slots used during the tick times
	// its length. A slot counts as used if its job was still running at the
	// end of the tick or finished during it.
	BusySlotTime int64
	Jobs         []core.JobView
	Logs         []core.LogEntry
}

// Utilisation is the share of slot time that ran jobs.
func (r Result) Utilisation() float64 {
	total := int64(r.Capacity) * r.Makespan
	if total <= 0 {
		return 0
	}
	return float64(r.BusySlotTime) / float64(total)
}

func (r *Runner) defaults() {
	if r.Strategy == nil {
		r.Strategy = SubmitAll{}
	}
	if r.TickLength <= 0 {
		r.TickLength = 1
	}
	if r.MaxTicks <= 0 {
		r.MaxTicks = DefaultMaxTicks
	}
	if r.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		r.Log = l
	}
	if r.Tracer == nil {
		r.Tracer = otel.Tracer("github.com/g-uva/sgesim/pkg/sim")
	}
	r.progress = rate.Sometimes{First: 1, Interval: 5 * time.Second}
}

// Run drives workloads to completion. It stops early when ctx is done, when
// MaxTicks is reached, or when only jobs held without a release time remain.
func (r *Runner) Run(ctx context.Context, workloads []Workload) (Result, error) {
	if r.Scheduler == nil {
		return Result{}, errors.New("runner has no scheduler")
	}
	if err := Validate(workloads); err != nil {
		return Result{}, err
	}
	r.defaults()

	log := r.Log.WithFields(logrus.Fields{"strategy": r.Strategy.Name(), "slots": r.Scheduler.Capacity()})
	ctx, span := r.Tracer.Start(ctx, "sim.run", trace.WithAttributes(
		attribute.String("strategy", r.Strategy.Name()),
		attribute.Int("slots", r.Scheduler.Capacity()),
		attribute.Int("workloads", len(workloads)),
	))
	defer span.End()

	pending := sortBySubmit(workloads)
	var releases []release
	res := Result{Strategy: r.Strategy.Name(), Capacity: r.Scheduler.Capacity()}
	started := time.Now()
	now := r.Scheduler.Clock()

	log.Infof("Simulating %d workloads", len(workloads))
	for {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return r.finish(res), ctx.Err()
		default:
		}

		n := 0
		for n < len(pending) && pending[n].Submit <= now {
			if w := pending[n]; w.Hold && w.ReleaseAt > 0 {
				releases = append(releases, release{id: w.ID, at: w.ReleaseAt})
			}
			n++
		}
		if err := r.Strategy.Submit(r.Scheduler, now, pending[:n]); err != nil {
			span.RecordError(err)
			return r.finish(res), errors.WithMessagef(err, "%s: submitting at %d", r.Strategy.Name(), now)
		}
		pending = pending[n:]

		var err error
		if releases, err = r.releaseDue(releases, now); err != nil {
			span.RecordError(err)
			return r.finish(res), err
		}
		if err := r.Strategy.Step(r.Scheduler, now); err != nil {
			span.RecordError(err)
			return r.finish(res), errors.WithMessagef(err, "%s: step at %d", r.Strategy.Name(), now)
		}

		counts := r.Scheduler.Counts()
		if len(pending) == 0 && counts[core.StatusQueued] == 0 && counts[core.StatusRunning] == 0 &&
			len(releases) == 0 && r.parked() == 0 {
			res.Completed = counts[core.StatusHold] == 0
			if !res.Completed {
				log.Warnf("Stopping with %d jobs held indefinitely", counts[core.StatusHold])
			}
			break
		}
		if res.Ticks >= r.MaxTicks {
			log.Warnf("Tick limit %d reached at time %d, stopping", r.MaxTicks, now)
			break
		}

		report, err := r.tick(ctx)
		if err != nil {
			span.RecordError(err)
			return r.finish(res), err
		}
		res.Ticks++
		if running := report.Counts[core.StatusRunning]; running > res.PeakRunning {
			res.PeakRunning = running
		}
		res.BusySlotTime += int64(min(report.Capacity, report.Counts[core.StatusRunning]+len(report.Finished))) * report.Length
		now = report.Clock

		r.progress.Do(func() {
			log.WithFields(logrus.Fields{
				"clock":    now,
				"running":  report.Counts[core.StatusRunning],
				"queued":   report.Counts[core.StatusQueued],
				"finished": report.Counts[core.StatusFinished],
			}).Info("Simulator progress")
		})
	}

	res = r.finish(res)
	span.SetAttributes(attribute.Int64("makespan", res.Makespan), attribute.Bool("completed", res.Completed))
	log.Infof("Run complete at time %d after %d ticks. Simulation took %s", res.Makespan, res.Ticks, time.Since(started))
	return res, nil
}

func (r *Runner) tick(ctx context.Context) (core.TickReport, error) {
	_, span := r.Tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	report, err := r.Scheduler.Tick(r.TickLength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	span.SetAttributes(
		attribute.Int64("clock", report.Clock),
		attribute.Int("admitted", len(report.Admitted)),
		attribute.Int("finished", len(report.Finished)),
	)
	return report, nil
}

type release struct {
	id string
	at int64
}

// releaseDue hands workload-held jobs whose release time has come to the
// strategy, in arrival order, and returns those still waiting.
func (r *Runner) releaseDue(releases []release, now int64) ([]release, error) {
	rel, meters := r.Strategy.(Releaser)
	waiting := releases[:0]
	for _, rl := range releases {
		if rl.at > now {
			waiting = append(waiting, rl)
			continue
		}
		if r.Scheduler.JobStatus(rl.id) != core.StatusHold {
			continue
		}
		var err error
		if meters {
			err = rel.Release(r.Scheduler, now, rl.id)
		} else {
			err = r.Scheduler.ResumeJob(rl.id)
		}
		if err != nil {
			return waiting, errors.WithMessagef(err, "releasing %q", rl.id)
		}
	}
	return waiting, nil
}

func (r *Runner) parked() int {
	if b, ok := r.Strategy.(Backlogged); ok {
		return b.Pending()
	}
	return 0
}

func (r *Runner) finish(res Result) Result {
	res.Makespan = r.Scheduler.Clock()
	res.Jobs = r.Scheduler.Jobs()
	res.Logs = r.Scheduler.Logs()
	return res
}
