package core

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, capacity int) *Scheduler {
	t.Helper()
	s, err := NewScheduler(capacity)
	require.NoError(t, err)
	return s
}

func TestRegisterJobKeepsInitialStatus(t *testing.T) {
	for _, status := range []Status{StatusQueued, StatusHold} {
		t.Run(status.String(), func(t *testing.T) {
			s := newTestScheduler(t, 3)
			require.NoError(t, s.RegisterJob("test job", DefaultRuntime, status))
			assert.Contains(t, s.JobIDs(), "test job")
			assert.Equal(t, status, s.JobStatus("test job"))
		})
	}
}

func TestRegisterJobRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		runtime int64
		status  Status
		want    error
	}{
		{"running", "a", 10, StatusRunning, ErrInvalidStatus},
		{"finished", "a", 10, StatusFinished, ErrInvalidStatus},
		{"absent", "a", 10, StatusAbsent, ErrInvalidStatus},
		{"zero runtime", "a", 0, StatusQueued, ErrInvalidRuntime},
		{"negative runtime", "a", -4, StatusHold, ErrInvalidRuntime},
		{"duplicate", "existing", 10, StatusQueued, ErrDuplicateID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, 1)
			require.NoError(t, s.RegisterJob("existing", 5, StatusQueued))
			before := s.JobIDs()

			err := s.RegisterJob(tt.id, tt.runtime, tt.status)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			assert.Equal(t, before, s.JobIDs())
			assert.Equal(t, StatusQueued, s.JobStatus("existing"))
		})
	}
}

func TestJobStatusAbsent(t *testing.T) {
	s := newTestScheduler(t, 1)
	assert.Equal(t, StatusAbsent, s.JobStatus("nope"))
	_, ok := s.Job("nope")
	assert.False(t, ok)
}

func TestJobIDsPreserveRegistrationOrder(t *testing.T) {
	s := newTestScheduler(t, 0)
	ids := []string{"zeta", "alpha", "mid", "beta"}
	for _, id := range ids {
		require.NoError(t, s.RegisterJob(id, 1, StatusQueued))
	}
	assert.Equal(t, ids, s.JobIDs())

	got := s.JobIDs()
	got[0] = "mutated"
	assert.Equal(t, ids, s.JobIDs())
}

func TestJobRunsOnNextTick(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("test", 100, StatusQueued))
	assert.Equal(t, StatusQueued, s.JobStatus("test"))

	report, err := s.Tick(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, report.Admitted)
	assert.Equal(t, StatusRunning, s.JobStatus("test"))

	v, ok := s.Job("test")
	require.True(t, ok)
	assert.Equal(t, int64(99), v.Remaining)
}

func TestTickFinishesJobs(t *testing.T) {
	s := newTestScheduler(t, 1)

	require.NoError(t, s.RegisterJob("test", 6, StatusQueued))
	mustTick(t, s, 1)
	mustTick(t, s, 5)
	assert.Equal(t, StatusFinished, s.JobStatus("test"))

	require.NoError(t, s.RegisterJob("test2", 6, StatusQueued))
	mustTick(t, s, 7)
	mustTick(t, s, 1)
	assert.Equal(t, StatusFinished, s.JobStatus("test2"))

	require.NoError(t, s.RegisterJob("test3", 6, StatusQueued))
	mustTick(t, s, 3)
	assert.Equal(t, StatusRunning, s.JobStatus("test3"))
	mustTick(t, s, 4)
	assert.Equal(t, StatusFinished, s.JobStatus("test3"))
}

func TestFinishedRuntimeIsFrozen(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("j", 4, StatusQueued))
	mustTick(t, s, 2)
	mustTick(t, s, 3)

	v, _ := s.Job("j")
	require.Equal(t, StatusFinished, v.Status)
	assert.LessOrEqual(t, v.Remaining, int64(0))

	mustTick(t, s, 10)
	after, _ := s.Job("j")
	assert.Equal(t, v.Remaining, after.Remaining)
	assert.Equal(t, StatusFinished, after.Status)
}

func TestHeldJobIsNeverAdmitted(t *testing.T) {
	s := newTestScheduler(t, 10)
	require.NoError(t, s.RegisterJob("test", 1, StatusQueued))
	require.NoError(t, s.HoldJob("test"))
	mustTick(t, s, 10)
	assert.Equal(t, StatusHold, s.JobStatus("test"))

	v, _ := s.Job("test")
	assert.Equal(t, int64(1), v.Remaining)
}

func TestHoldRunningJobFreesSlot(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("a", 10, StatusQueued))
	require.NoError(t, s.RegisterJob("b", 10, StatusQueued))
	mustTick(t, s, 2)
	require.Equal(t, StatusRunning, s.JobStatus("a"))

	require.NoError(t, s.HoldJob("a"))
	report := mustTick(t, s, 1)
	assert.Equal(t, []string{"b"}, report.Admitted)
	assert.Equal(t, StatusHold, s.JobStatus("a"))

	v, _ := s.Job("a")
	assert.Equal(t, int64(8), v.Remaining)
}

func TestResumeJob(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("h", 3, StatusHold))
	mustTick(t, s, 5)
	assert.Equal(t, StatusHold, s.JobStatus("h"))

	require.NoError(t, s.ResumeJob("h"))
	assert.Equal(t, StatusQueued, s.JobStatus("h"))
	mustTick(t, s, 1)
	assert.Equal(t, StatusRunning, s.JobStatus("h"))

	err := s.ResumeJob("h")
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StatusRunning, s.JobStatus("h"))
}

func TestIDTargetedOperationsOnUnknownJob(t *testing.T) {
	s := newTestScheduler(t, 1)
	assert.True(t, errors.Is(s.HoldJob("ghost"), ErrUnknownJob))
	assert.True(t, errors.Is(s.ResumeJob("ghost"), ErrUnknownJob))
	assert.Empty(t, s.JobIDs())
}

func TestHoldFinishedJobIsRejected(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("done", 1, StatusQueued))
	mustTick(t, s, 1)
	require.Equal(t, StatusFinished, s.JobStatus("done"))

	err := s.HoldJob("done")
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StatusFinished, s.JobStatus("done"))
}

func TestAdmissionFollowsRegistrationOrder(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("A", 2, StatusQueued))
	require.NoError(t, s.RegisterJob("B", 2, StatusQueued))

	mustTick(t, s, 1)
	assert.Equal(t, StatusRunning, s.JobStatus("A"))
	assert.Equal(t, StatusQueued, s.JobStatus("B"))

	report := mustTick(t, s, 1)
	assert.Equal(t, []string{"A"}, report.Finished)
	assert.Equal(t, []string{"B"}, report.Admitted)
	assert.Equal(t, StatusRunning, s.JobStatus("B"))
}

func TestHeldJobsAreSkippedDuringAdmission(t *testing.T) {
	s := newTestScheduler(t, 2)
	require.NoError(t, s.RegisterJob("held", 5, StatusHold))
	require.NoError(t, s.RegisterJob("q1", 5, StatusQueued))
	require.NoError(t, s.RegisterJob("q2", 5, StatusQueued))
	require.NoError(t, s.RegisterJob("q3", 5, StatusQueued))

	report := mustTick(t, s, 1)
	assert.Equal(t, []string{"q1", "q2"}, report.Admitted)
	assert.Equal(t, StatusQueued, s.JobStatus("q3"))
	assert.Equal(t, StatusHold, s.JobStatus("held"))
}

func TestJobFinishingOnAdmissionKeepsSlotForTick(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("short", 1, StatusQueued))
	require.NoError(t, s.RegisterJob("next", 1, StatusQueued))

	report := mustTick(t, s, 3)
	assert.Equal(t, []string{"short"}, report.Admitted)
	assert.Equal(t, []string{"short"}, report.Finished)
	assert.Equal(t, StatusQueued, s.JobStatus("next"))

	mustTick(t, s, 1)
	assert.Equal(t, StatusFinished, s.JobStatus("next"))
}

func TestRunningNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newTestScheduler(t, 3)
	for i := 0; i < 40; i++ {
		require.NoError(t, s.RegisterJob(string(rune('a'+i%26))+string(rune('0'+i/26)), int64(rng.Intn(9)+1), StatusQueued))
	}
	for i := 0; i < 60; i++ {
		report := mustTick(t, s, int64(rng.Intn(3)+1))
		assert.LessOrEqual(t, report.Counts[StatusRunning], 3)
		if i%7 == 0 {
			ids := s.JobIDs()
			_ = s.HoldJob(ids[rng.Intn(len(ids))])
		}
	}
}

func TestTickRejectsNonPositiveLength(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("j", 5, StatusQueued))
	for _, length := range []int64{0, -1} {
		_, err := s.Tick(length)
		assert.True(t, errors.Is(err, ErrInvalidTickLength))
	}
	assert.Equal(t, int64(0), s.Clock())
	assert.Equal(t, StatusQueued, s.JobStatus("j"))
}

func TestTickRejectsClockOverflow(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("b", 5, StatusQueued))
	mustTick(t, s, math.MaxInt64)

	_, err := s.Tick(math.MaxInt64)
	assert.True(t, errors.Is(err, ErrClockOverflow))
	_, err = s.Tick(1)
	assert.True(t, errors.Is(err, ErrClockOverflow))
	assert.Equal(t, int64(math.MaxInt64), s.Clock())

	v, _ := s.Job("b")
	assert.Equal(t, int64(math.MaxInt64), v.EndAt)
}

func TestRegisterJobAtRecordsArrival(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustTick(t, s, 5)
	require.NoError(t, s.RegisterJobAt("a", 2, StatusQueued, 3))
	require.NoError(t, s.RegisterJob("b", 2, StatusQueued))
	mustTick(t, s, 5)
	mustTick(t, s, 5)

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, LogEntry{JobID: "a", Submit: 3, Start: 5, End: 10, Wait: 2}, logs[0])
	assert.Equal(t, LogEntry{JobID: "b", Submit: 5, Start: 10, End: 15, Wait: 5}, logs[1])
}

func TestRegisterJobAtRejectsBadSubmitTime(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustTick(t, s, 5)
	for _, at := range []int64{-1, 6} {
		err := s.RegisterJobAt("a", 2, StatusQueued, at)
		assert.True(t, errors.Is(err, ErrInvalidSubmitTime), "submit %d: %v", at, err)
	}
	assert.Empty(t, s.JobIDs())
}

func TestZeroCapacityAdmitsNothing(t *testing.T) {
	s := newTestScheduler(t, 0)
	require.NoError(t, s.RegisterJob("j", 5, StatusQueued))
	mustTick(t, s, 100)
	assert.Equal(t, StatusQueued, s.JobStatus("j"))
}

func TestNewSchedulerRejectsNegativeCapacity(t *testing.T) {
	_, err := NewScheduler(-1)
	assert.True(t, errors.Is(err, ErrInvalidCapacity))
}

func TestLogsRecordWaitAndEnd(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.RegisterJob("a", 2, StatusQueued))
	require.NoError(t, s.RegisterJob("b", 2, StatusQueued))
	for i := 0; i < 4; i++ {
		mustTick(t, s, 1)
	}

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, LogEntry{JobID: "a", Submit: 0, Start: 0, End: 2, Wait: 0}, logs[0])
	assert.Equal(t, LogEntry{JobID: "b", Submit: 0, Start: 1, End: 3, Wait: 1}, logs[1])

	v, _ := s.Job("b")
	assert.Equal(t, int64(1), v.Wait())
	assert.Equal(t, int64(3), v.Turnaround())
}

type recordingObserver struct {
	reports []TickReport
}

func (r *recordingObserver) ObserveTick(report TickReport) {
	r.reports = append(r.reports, report)
}

func TestObserverReceivesReports(t *testing.T) {
	obs := &recordingObserver{}
	s, err := NewScheduler(2, WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, s.RegisterJob("a", 1, StatusQueued))
	require.NoError(t, s.RegisterJob("b", 3, StatusHold))
	mustTick(t, s, 1)

	require.Len(t, obs.reports, 1)
	r := obs.reports[0]
	assert.Equal(t, int64(1), r.Clock)
	assert.Equal(t, 2, r.Capacity)
	assert.Equal(t, 1, r.Counts[StatusFinished])
	assert.Equal(t, 1, r.Counts[StatusHold])
	assert.Equal(t, 0, r.Counts[StatusRunning])
}

func mustTick(t *testing.T, s *Scheduler, length int64) TickReport {
	t.Helper()
	report, err := s.Tick(length)
	require.NoError(t, err)
	return report
}
