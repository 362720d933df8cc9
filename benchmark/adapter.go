package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/g-uva/sgesim/pkg/core"
	"github.com/g-uva/sgesim/pkg/metrics"
	"github.com/g-uva/sgesim/pkg/sim"
)

// StrategyFactory builds a fresh strategy for each run, since strategies
// keep state across ticks.
type StrategyFactory struct {
	Name string
	New  func() sim.Strategy
}

// DefaultStrategies is the set compared when the benchmark runs without an
// explicit list.
func DefaultStrategies(maxQueued int, perTick float64, burst int) []StrategyFactory {
	return []StrategyFactory{
		{Name: "submit_all", New: func() sim.Strategy { return sim.SubmitAll{} }},
		{Name: "hold_backlog", New: func() sim.Strategy { return sim.NewHoldBacklog(maxQueued) }},
		{Name: "token_bucket", New: func() sim.Strategy { return sim.NewTokenBucket(perTick, burst) }},
	}
}

// BenchmarkAdapter runs every strategy over the same workloads, each on its
// own scheduler with the same number of slots.
type BenchmarkAdapter struct {
	Capacity   int
	TickLength int64
	MaxTicks   int
	Strategies []StrategyFactory
	Workloads  []sim.Workload
	Log        logrus.FieldLogger
	// Metrics, when set, receives the tick reports of every run.
	Metrics *metrics.Recorder

	Results []BenchmarkRecord
	Runs    map[string]sim.Result
}

func (ba *BenchmarkAdapter) RunBenchmark(ctx context.Context) error {
	if len(ba.Strategies) == 0 {
		return errors.New("benchmark has no strategies")
	}
	seen := make(map[string]struct{}, len(ba.Strategies))
	for _, f := range ba.Strategies {
		if _, dup := seen[f.Name]; dup {
			return errors.Errorf("strategy %q listed twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	log := ba.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	ba.Results = nil
	ba.Runs = make(map[string]sim.Result, len(ba.Strategies))
	for _, f := range ba.Strategies {
		log.Infof("[Benchmark] Running with strategy: %s", f.Name)
		opts := []core.Option{core.WithLogger(log.WithField("strategy", f.Name))}
		if ba.Metrics != nil {
			opts = append(opts, core.WithObserver(ba.Metrics.Observer(f.Name)))
		}
		s, err := core.NewScheduler(ba.Capacity, opts...)
		if err != nil {
			return err
		}
		r := &sim.Runner{
			Scheduler:  s,
			Strategy:   f.New(),
			TickLength: ba.TickLength,
			MaxTicks:   ba.MaxTicks,
			Log:        log,
		}
		res, err := r.Run(ctx, ba.Workloads)
		if err != nil {
			return errors.WithMessagef(err, "strategy %s", f.Name)
		}
		ba.Runs[f.Name] = res
		ba.Results = append(ba.Results, Summarise(res, time.Now()))
	}
	return nil
}

// Names lists the strategies that have results, sorted.
func (ba *BenchmarkAdapter) Names() []string {
	names := maps.Keys(ba.Runs)
	slices.Sort(names)
	return names
}

// ExportToCSV writes the results into a new file under dir and returns its
// path.
func (ba *BenchmarkAdapter) ExportToCSV(dir string) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Wrap(err, "creating results directory")
	}
	filename := filepath.Join(dir, generateFilename(time.Now()))
	file, err := os.Create(filename)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer file.Close()

	if err := WriteRecords(file, ba.Results); err != nil {
		return "", errors.WithMessagef(err, "writing %s", filename)
	}
	return filename, nil
}

var headers = []string{
	"Timestamp", "Strategy", "Slots", "Jobs", "Completed", "Makespan", "Ticks",
	"MeanWait", "MaxWait", "MeanTurnaround", "Utilisation", "PeakRunning",
}

func WriteRecords(w io.Writer, records []BenchmarkRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return errors.WithStack(err)
	}
	for _, r := range records {
		row := []string{
			r.Timestamp,
			r.Strategy,
			fmt.Sprint(r.Slots),
			fmt.Sprint(r.Jobs),
			fmt.Sprint(r.Completed),
			fmt.Sprint(r.Makespan),
			fmt.Sprint(r.Ticks),
			fmt.Sprintf("%.2f", r.MeanWait),
			fmt.Sprint(r.MaxWait),
			fmt.Sprintf("%.2f", r.MeanTurnaround),
			fmt.Sprintf("%.4f", r.Utilisation),
			fmt.Sprint(r.PeakRunning),
		}
		if err := writer.Write(row); err != nil {
			return errors.WithStack(err)
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}

func generateFilename(now time.Time) string {
	return fmt.Sprintf("%s_%s_benchmark.csv", uuid.NewString()[:8], now.Format("20060102-150405"))
}
