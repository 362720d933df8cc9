// Package benchmark compares submission strategies on a shared workload.
package benchmark

import (
	"cmp"
	"time"

	"golang.org/x/exp/slices"

	"github.com/g-uva/sgesim/pkg/sim"
)

// BenchmarkRecord is the summary of one strategy's run.
type BenchmarkRecord struct {
	Timestamp      string
	Strategy       string
	Slots          int
	Jobs           int
	Completed      bool
	Makespan       int64
	Ticks          int
	MeanWait       float64
	MaxWait        int64
	MeanTurnaround float64
	Utilisation    float64
	PeakRunning    int
}

// Summarise reduces a run to its record. Waits and turnarounds cover the
// jobs that finished.
func Summarise(res sim.Result, now time.Time) BenchmarkRecord {
	rec := BenchmarkRecord{
		Timestamp:   now.Format(time.RFC3339),
		Strategy:    res.Strategy,
		Slots:       res.Capacity,
		Jobs:        len(res.Jobs),
		Completed:   res.Completed,
		Makespan:    res.Makespan,
		Ticks:       res.Ticks,
		Utilisation: res.Utilisation(),
		PeakRunning: res.PeakRunning,
	}
	if len(res.Logs) == 0 {
		return rec
	}
	var wait, turnaround int64
	for _, l := range res.Logs {
		wait += l.Wait
		turnaround += l.End - l.Submit
		rec.MaxWait = max(rec.MaxWait, l.Wait)
	}
	n := float64(len(res.Logs))
	rec.MeanWait = float64(wait) / n
	rec.MeanTurnaround = float64(turnaround) / n
	return rec
}

// Ranked orders records by makespan, then mean turnaround. Incomplete runs
// sort last.
func Ranked(records []BenchmarkRecord) []BenchmarkRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b BenchmarkRecord) int {
		if a.Completed != b.Completed {
			if a.Completed {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Makespan, b.Makespan); c != 0 {
			return c
		}
		return cmp.Compare(a.MeanTurnaround, b.MeanTurnaround)
	})
	return out
}
