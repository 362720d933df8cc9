package core

// DefaultRuntime is the runtime given to jobs that do not declare one.
const DefaultRuntime int64 = 100

// Job is the scheduler's record of one unit of work. Only the Scheduler
// mutates it; callers see JobView snapshots.
type Job struct {
	id        string
	runtime   int64
	remaining int64
	status    Status

	submitAt int64
	startAt  int64 // first admission, -1 until admitted
	endAt    int64 // -1 until finished
}

func newJob(id string, runtime int64, status Status, submitAt int64) *Job {
	return &Job{
		id:        id,
		runtime:   runtime,
		remaining: runtime,
		status:    status,
		submitAt:  submitAt,
		startAt:   -1,
		endAt:     -1,
	}
}

// apply moves the job through e, leaving it untouched on an illegal event.
func (j *Job) apply(e Event) error {
	next, err := j.status.Transition(e)
	if err != nil {
		return err
	}
	j.status = next
	return nil
}
