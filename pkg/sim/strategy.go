package sim

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/g-uva/sgesim/pkg/core"
)

// Strategy decides how a user feeds jobs into the grid engine.
type Strategy interface {
	Name() string
	// Submit registers the jobs arriving at now.
	Submit(s *core.Scheduler, now int64, arrivals []Workload) error
	// Step runs before every tick and may hold or resume jobs.
	Step(s *core.Scheduler, now int64) error
}

// Backlogged is implemented by strategies that park jobs of their own.
type Backlogged interface {
	Pending() int
}

// Releaser is implemented by strategies that meter the release of jobs
// submitted on hold. Without one, such jobs are resumed as soon as their
// release time comes.
type Releaser interface {
	Release(s *core.Scheduler, now int64, id string) error
}

// SubmitAll hands every arrival straight to the scheduler.
type SubmitAll struct{}

func (SubmitAll) Name() string { return "submit_all" }

func (SubmitAll) Submit(s *core.Scheduler, now int64, arrivals []Workload) error {
	for _, w := range arrivals {
		if err := s.RegisterJobAt(w.ID, w.Runtime, w.initialStatus(), w.Submit); err != nil {
			return err
		}
	}
	return nil
}

func (SubmitAll) Step(*core.Scheduler, int64) error { return nil }

// parking is a FIFO of jobs a strategy put on hold itself.
type parking struct {
	ids []string
}

func (p *parking) Pending() int { return len(p.ids) }

func (p *parking) park(s *core.Scheduler, w Workload) error {
	if err := s.RegisterJobAt(w.ID, w.Runtime, core.StatusHold, w.Submit); err != nil {
		return err
	}
	p.ids = append(p.ids, w.ID)
	return nil
}

// enqueue parks a job that is already on hold.
func (p *parking) enqueue(id string) {
	p.ids = append(p.ids, id)
}

func (p *parking) release(s *core.Scheduler) error {
	id := p.ids[0]
	if err := s.ResumeJob(id); err != nil {
		return errors.WithMessagef(err, "releasing parked job %q", id)
	}
	p.ids = p.ids[1:]
	return nil
}

// HoldBacklog keeps at most MaxQueued jobs queued in the engine and parks
// the rest on hold, releasing them in arrival order as the queue drains.
type HoldBacklog struct {
	MaxQueued int
	parking
}

func NewHoldBacklog(maxQueued int) *HoldBacklog {
	if maxQueued < 1 {
		maxQueued = 1
	}
	return &HoldBacklog{MaxQueued: maxQueued}
}

func (h *HoldBacklog) Name() string { return "hold_backlog" }

func (h *HoldBacklog) limit() int {
	if h.MaxQueued < 1 {
		return 1
	}
	return h.MaxQueued
}

func (h *HoldBacklog) Submit(s *core.Scheduler, now int64, arrivals []Workload) error {
	queued := s.Counts()[core.StatusQueued]
	for _, w := range arrivals {
		if w.Hold {
			if err := s.RegisterJobAt(w.ID, w.Runtime, core.StatusHold, w.Submit); err != nil {
				return err
			}
			continue
		}
		if h.Pending() == 0 && queued < h.limit() {
			if err := s.RegisterJobAt(w.ID, w.Runtime, core.StatusQueued, w.Submit); err != nil {
				return err
			}
			queued++
			continue
		}
		if err := h.park(s, w); err != nil {
			return err
		}
	}
	return nil
}

// Release resumes a workload-held job only if the backlog has room, and
// parks it behind the strategy's own jobs otherwise.
func (h *HoldBacklog) Release(s *core.Scheduler, now int64, id string) error {
	if h.Pending() == 0 && s.Counts()[core.StatusQueued] < h.limit() {
		return s.ResumeJob(id)
	}
	h.enqueue(id)
	return nil
}

func (h *HoldBacklog) Step(s *core.Scheduler, now int64) error {
	queued := s.Counts()[core.StatusQueued]
	for h.Pending() > 0 && queued < h.limit() {
		if err := h.release(s); err != nil {
			return err
		}
		queued++
	}
	return nil
}

// TokenBucket lets jobs into the queue at a sustained rate per time unit,
// with bursts up to Burst. Jobs without a token wait on hold.
type TokenBucket struct {
	PerTick float64
	Burst   int
	limiter *rate.Limiter
	parking
}

func NewTokenBucket(perTick float64, burst int) *TokenBucket {
	b := &TokenBucket{PerTick: perTick, Burst: burst}
	b.bucket()
	return b
}

func (b *TokenBucket) bucket() *rate.Limiter {
	if b.limiter == nil {
		if b.PerTick <= 0 {
			b.PerTick = 1
		}
		if b.Burst < 1 {
			b.Burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(b.PerTick), b.Burst)
	}
	return b.limiter
}

func (b *TokenBucket) Name() string { return "token_bucket" }

// simulated clock units map onto seconds for the limiter
var epoch = time.Unix(0, 0)

func simTime(now int64) time.Time {
	return epoch.Add(time.Duration(now) * time.Second)
}

func (b *TokenBucket) Submit(s *core.Scheduler, now int64, arrivals []Workload) error {
	at := simTime(now)
	for _, w := range arrivals {
		if w.Hold {
			if err := s.RegisterJobAt(w.ID, w.Runtime, core.StatusHold, w.Submit); err != nil {
				return err
			}
			continue
		}
		if b.Pending() == 0 && b.bucket().AllowN(at, 1) {
			if err := s.RegisterJobAt(w.ID, w.Runtime, core.StatusQueued, w.Submit); err != nil {
				return err
			}
			continue
		}
		if err := b.park(s, w); err != nil {
			return err
		}
	}
	return nil
}

// Release spends a token on a workload-held job, or parks it until one is
// available.
func (b *TokenBucket) Release(s *core.Scheduler, now int64, id string) error {
	if b.Pending() == 0 && b.bucket().AllowN(simTime(now), 1) {
		return s.ResumeJob(id)
	}
	b.enqueue(id)
	return nil
}

func (b *TokenBucket) Step(s *core.Scheduler, now int64) error {
	at := simTime(now)
	for b.Pending() > 0 && b.bucket().AllowN(at, 1) {
		if err := b.release(s); err != nil {
			return err
		}
	}
	return nil
}
