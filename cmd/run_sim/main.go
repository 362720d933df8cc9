// Command run_sim runs a workload through the grid engine emulator under one
// submission strategy, or compares all of them.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/g-uva/sgesim/benchmark"
	"github.com/g-uva/sgesim/pkg/core"
	"github.com/g-uva/sgesim/pkg/generator"
	"github.com/g-uva/sgesim/pkg/kube"
	"github.com/g-uva/sgesim/pkg/loader"
	"github.com/g-uva/sgesim/pkg/metrics"
	"github.com/g-uva/sgesim/pkg/sim"
)

func main() {
	cfg, err := Load(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	log := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("run failed")
	}
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func run(ctx context.Context, cfg *Config, log *logrus.Logger) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	wls, err := loadWorkloads(cfg, log)
	if err != nil {
		return err
	}

	capacity := cfg.Slots
	if capacity < 0 {
		capacity = cfg.SlotRange().Resolve(rng)
	}
	if capacity == 0 {
		log.Warn("Drew zero slots: no job will ever run")
	}
	log.WithFields(logrus.Fields{"slots": capacity, "jobs": len(wls), "seed": cfg.Seed}).Info("Starting simulation")

	recorder := metrics.NewRecorder()
	serveErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		go func() { serveErr <- metrics.Serve(ctx, cfg.MetricsAddr, recorder.Handler(), log) }()
	}

	if cfg.Benchmark {
		err = runBenchmark(ctx, cfg, log, capacity, wls, recorder)
	} else {
		err = runSingle(ctx, cfg, log, capacity, wls, recorder)
	}
	if err != nil || cfg.MetricsAddr == "" {
		return err
	}

	log.Info("Run finished, serving metrics until interrupted")
	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return err
	}
}

func loadWorkloads(cfg *Config, log logrus.FieldLogger) ([]sim.Workload, error) {
	if cfg.WorkloadCSV != "" {
		wls, err := loader.LoadWorkloadsFromCSV(cfg.WorkloadCSV)
		if err != nil {
			return nil, err
		}
		log.Infof("Loaded %d workloads from %s", len(wls), cfg.WorkloadCSV)
		return wls, nil
	}

	spec := generator.Spec{
		Jobs:         cfg.Jobs,
		Seed:         cfg.Seed,
		Pattern:      cfg.Pattern,
		MeanGap:      cfg.MeanGap,
		HoldFraction: cfg.HoldFraction,
		HoldDelay:    cfg.HoldDelay,
	}
	if cfg.SaveWorkload != "" {
		if err := generator.GenerateWorkloadsCSV(cfg.SaveWorkload, spec); err != nil {
			return nil, errors.WithMessage(err, "workload generation failed")
		}
		log.Infof("Wrote generated workload to %s", cfg.SaveWorkload)
	}
	return generator.GenerateWorkloads(spec)
}

func strategyByName(cfg *Config) (sim.Strategy, error) {
	for _, f := range benchmark.DefaultStrategies(cfg.MaxQueued, cfg.Rate, cfg.Burst) {
		if f.Name == cfg.Strategy {
			return f.New(), nil
		}
	}
	return nil, errors.Errorf("unknown strategy %q", cfg.Strategy)
}

func runSingle(ctx context.Context, cfg *Config, log *logrus.Logger, capacity int, wls []sim.Workload, recorder *metrics.Recorder) error {
	strategy, err := strategyByName(cfg)
	if err != nil {
		return err
	}
	s, err := core.NewScheduler(capacity,
		core.WithLogger(log.WithField("strategy", strategy.Name())),
		core.WithObserver(recorder.Observer(strategy.Name())),
	)
	if err != nil {
		return err
	}
	r := &sim.Runner{
		Scheduler:  s,
		Strategy:   strategy,
		TickLength: cfg.TickLength,
		MaxTicks:   cfg.MaxTicks,
		Log:        log,
	}
	res, err := r.Run(ctx, wls)
	if err != nil {
		return err
	}

	rec := benchmark.Summarise(res, time.Now())
	log.WithFields(logrus.Fields{
		"makespan":        rec.Makespan,
		"completed":       rec.Completed,
		"mean_wait":       fmt.Sprintf("%.2f", rec.MeanWait),
		"mean_turnaround": fmt.Sprintf("%.2f", rec.MeanTurnaround),
		"utilisation":     fmt.Sprintf("%.3f", rec.Utilisation),
	}).Info("Run summary")

	path, err := writeJobLog(cfg.ResultsDir, res)
	if err != nil {
		return err
	}
	log.Infof("Job log written to %s", path)

	if cfg.Manifests != "" {
		if err := writeManifests(cfg, res.Jobs); err != nil {
			return err
		}
		log.Infof("Job manifests written to %s", cfg.Manifests)
	}
	return nil
}

func runBenchmark(ctx context.Context, cfg *Config, log *logrus.Logger, capacity int, wls []sim.Workload, recorder *metrics.Recorder) error {
	ba := &benchmark.BenchmarkAdapter{
		Capacity:   capacity,
		TickLength: cfg.TickLength,
		MaxTicks:   cfg.MaxTicks,
		Strategies: benchmark.DefaultStrategies(cfg.MaxQueued, cfg.Rate, cfg.Burst),
		Workloads:  wls,
		Log:        log,
		Metrics:    recorder,
	}
	if err := ba.RunBenchmark(ctx); err != nil {
		return err
	}
	for i, r := range benchmark.Ranked(ba.Results) {
		log.Infof("%d. %-13s makespan=%d mean_wait=%.2f mean_turnaround=%.2f utilisation=%.3f completed=%t",
			i+1, r.Strategy, r.Makespan, r.MeanWait, r.MeanTurnaround, r.Utilisation, r.Completed)
	}
	path, err := ba.ExportToCSV(cfg.ResultsDir)
	if err != nil {
		return err
	}
	log.Infof("[Benchmark] Exported to CSV: %s", path)
	return nil
}

// writeJobLog writes one row per finished job of a run.
func writeJobLog(dir string, res sim.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create results dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s_jobs.csv", time.Now().Unix(), res.Strategy))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"job_id", "strategy", "slots", "submit", "start", "end", "wait"})
	for _, e := range res.Logs {
		w.Write([]string{
			e.JobID,
			res.Strategy,
			fmt.Sprint(res.Capacity),
			fmt.Sprint(e.Submit),
			fmt.Sprint(e.Start),
			fmt.Sprint(e.End),
			fmt.Sprint(e.Wait),
		})
	}
	w.Flush()
	return path, errors.WithStack(w.Error())
}

func writeManifests(cfg *Config, views []core.JobView) error {
	f, err := os.Create(cfg.Manifests)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return kube.WriteJobList(f, views, kube.Options{
		Namespace: cfg.Namespace,
		TimeUnit:  cfg.TimeUnit,
		Epoch:     time.Now().UTC().Truncate(time.Second),
	})
}
