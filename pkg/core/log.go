package core

// LogEntry records a job that finished, in simulated time units.
type LogEntry struct {
	JobID  string
	Submit int64
	Start  int64
	End    int64
	Wait   int64
}

// TickReport describes what one tick did.
type TickReport struct {
	Clock    int64
	Length   int64
	Admitted []string
	Finished []string
	Counts   map[Status]int
	Capacity int
}

// Observer is notified after every completed tick, outside the scheduler lock.
type Observer interface {
	ObserveTick(r TickReport)
}
