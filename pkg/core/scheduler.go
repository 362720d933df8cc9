package core

import (
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Scheduler emulates a grid engine seen from a single user: a fixed number
// of slots and a FIFO of jobs admitted into them as the clock ticks.
type Scheduler struct {
	mu        sync.RWMutex
	capacity  int
	clock     int64
	jobs      map[string]*Job
	order     []string
	logs      []LogEntry
	observers []Observer
	log       logrus.FieldLogger
}

type Option func(*Scheduler)

// WithLogger sets the logger used for job transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver registers o to receive a report after each tick.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func NewScheduler(capacity int, opts ...Option) (*Scheduler, error) {
	if capacity < 0 {
		return nil, errors.Wrapf(ErrInvalidCapacity, "got %d", capacity)
	}
	s := &Scheduler{
		capacity: capacity,
		jobs:     make(map[string]*Job),
		log:      nullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.WithField("slots", capacity).Debug("scheduler initialised")
	return s, nil
}

// NewSchedulerFromRange draws the capacity once from r using src.
func NewSchedulerFromRange(r SlotRange, src IntSource, opts ...Option) (*Scheduler, error) {
	return NewScheduler(r.Resolve(src), opts...)
}

func nullLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (s *Scheduler) Capacity() int { return s.capacity }

// Clock is the simulated time elapsed over all ticks.
func (s *Scheduler) Clock() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// RegisterJob adds a job in the queued or hold state, submitted at the
// current clock. It is not admitted before the next tick.
func (s *Scheduler) RegisterJob(id string, runtime int64, status Status) error {
	return s.register(id, runtime, status, -1)
}

// RegisterJobAt is RegisterJob for a job that arrived at submitAt, which may
// lie between tick boundaries but not after the current clock.
func (s *Scheduler) RegisterJobAt(id string, runtime int64, status Status, submitAt int64) error {
	if submitAt < 0 {
		return errors.Wrapf(ErrInvalidSubmitTime, "job %q submitted at %d", id, submitAt)
	}
	return s.register(id, runtime, status, submitAt)
}

func (s *Scheduler) register(id string, runtime int64, status Status, submitAt int64) error {
	if !status.Registrable() {
		return errors.Wrapf(ErrInvalidStatus, "job %q requested %s", id, status)
	}
	if runtime <= 0 {
		return errors.Wrapf(ErrInvalidRuntime, "job %q has runtime %d", id, runtime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return errors.Wrapf(ErrDuplicateID, "job %q", id)
	}
	if submitAt < 0 {
		submitAt = s.clock
	}
	if submitAt > s.clock {
		return errors.Wrapf(ErrInvalidSubmitTime, "job %q submitted at %d, clock is %d", id, submitAt, s.clock)
	}
	s.jobs[id] = newJob(id, runtime, status, submitAt)
	s.order = append(s.order, id)
	s.log.WithFields(logrus.Fields{"job": id, "runtime": runtime, "status": status, "submit": submitAt}).Debug("job registered")
	return nil
}

// JobIDs returns every registered id in registration order.
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// JobStatus returns StatusAbsent for ids that were never registered.
func (s *Scheduler) JobStatus(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.jobs[id]; ok {
		return j.status
	}
	return StatusAbsent
}

func (s *Scheduler) Job(id string) (JobView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return viewOf(j), true
}

// Jobs returns snapshots of all jobs in registration order.
func (s *Scheduler) Jobs() []JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]JobView, 0, len(s.order))
	for _, id := range s.order {
		views = append(views, viewOf(s.jobs[id]))
	}
	return views
}

func (s *Scheduler) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

// Logs returns an entry per finished job, in finishing order.
func (s *Scheduler) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

// HoldJob stops a job from being admitted. A running job gives up its slot
// and keeps its remaining runtime.
func (s *Scheduler) HoldJob(id string) error {
	return s.update(id, EventHold)
}

// ResumeJob puts a held job back in the queue.
func (s *Scheduler) ResumeJob(id string) error {
	return s.update(id, EventResume)
}

func (s *Scheduler) update(id string, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(ErrUnknownJob, "%s %q", e, id)
	}
	prev := j.status
	if err := j.apply(e); err != nil {
		return errors.WithMessagef(err, "job %q", id)
	}
	s.log.WithFields(logrus.Fields{"job": id, "from": prev, "to": j.status, "clock": s.clock}).Debug("job updated")
	return nil
}

// Tick advances the clock by length. Running jobs progress first and free
// their slots when done; queued jobs are then admitted in registration order
// and pay for the tick that admitted them.
func (s *Scheduler) Tick(length int64) (TickReport, error) {
	if length <= 0 {
		return TickReport{}, errors.Wrapf(ErrInvalidTickLength, "got %d", length)
	}

	s.mu.Lock()
	if length > math.MaxInt64-s.clock {
		clock := s.clock
		s.mu.Unlock()
		return TickReport{}, errors.Wrapf(ErrClockOverflow, "tick %d at clock %d", length, clock)
	}
	report := s.tickLocked(length)
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o.ObserveTick(report)
	}
	return report, nil
}

func (s *Scheduler) tickLocked(length int64) TickReport {
	start := s.clock
	s.clock += length
	report := TickReport{Clock: s.clock, Length: length, Capacity: s.capacity}

	running := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.status != StatusRunning {
			continue
		}
		j.remaining -= length
		if j.remaining <= 0 {
			s.finishLocked(j, &report)
			continue
		}
		running++
	}

	free := s.capacity - running
	for _, id := range s.order {
		if free <= 0 {
			break
		}
		j := s.jobs[id]
		if j.status != StatusQueued {
			continue
		}
		if err := j.apply(EventAdmit); err != nil {
			s.log.WithError(err).WithField("job", id).Error("admission failed")
			continue
		}
		if j.startAt < 0 {
			j.startAt = start
		}
		free--
		report.Admitted = append(report.Admitted, id)
		s.log.WithFields(logrus.Fields{"job": id, "clock": start}).Debug("job admitted")

		// The slot stays occupied for this tick even if the job is done.
		j.remaining -= length
		if j.remaining <= 0 {
			s.finishLocked(j, &report)
		}
	}

	report.Counts = s.countsLocked()
	return report
}

func (s *Scheduler) finishLocked(j *Job, report *TickReport) {
	if err := j.apply(EventFinish); err != nil {
		s.log.WithError(err).WithField("job", j.id).Error("finish failed")
		return
	}
	j.endAt = s.clock
	s.logs = append(s.logs, LogEntry{
		JobID:  j.id,
		Submit: j.submitAt,
		Start:  j.startAt,
		End:    j.endAt,
		Wait:   j.startAt - j.submitAt,
	})
	report.Finished = append(report.Finished, j.id)
	s.log.WithFields(logrus.Fields{"job": j.id, "clock": s.clock, "remaining": j.remaining}).Debug("job finished")
}

func (s *Scheduler) countsLocked() map[Status]int {
	counts := map[Status]int{
		StatusQueued:   0,
		StatusHold:     0,
		StatusRunning:  0,
		StatusFinished: 0,
	}
	for _, j := range s.jobs {
		counts[j.status]++
	}
	return counts
}
