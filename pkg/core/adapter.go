package core

// JobView is a read-only snapshot of a job.
type JobView struct {
	ID        string
	Runtime   int64
	Remaining int64
	Status    Status
	SubmitAt  int64
	StartAt   int64 // -1 if never admitted
	EndAt     int64 // -1 if not finished
}

func viewOf(j *Job) JobView {
	return JobView{
		ID:        j.id,
		Runtime:   j.runtime,
		Remaining: j.remaining,
		Status:    j.status,
		SubmitAt:  j.submitAt,
		StartAt:   j.startAt,
		EndAt:     j.endAt,
	}
}

// Wait is the number of time units the job spent before its first admission.
func (v JobView) Wait() int64 {
	if v.StartAt < 0 {
		return -1
	}
	return v.StartAt - v.SubmitAt
}

// Turnaround is submit-to-finish time, or -1 for unfinished jobs.
func (v JobView) Turnaround() int64 {
	if v.EndAt < 0 {
		return -1
	}
	return v.EndAt - v.SubmitAt
}
