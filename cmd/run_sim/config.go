package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/g-uva/sgesim/pkg/core"
	"github.com/g-uva/sgesim/pkg/generator"
)

const envPrefix = "SGESIM_"

var strategies = []string{"submit_all", "hold_backlog", "token_bucket"}

type Config struct {
	// Slots fixes the capacity; negative draws it from [SlotMin, SlotMax).
	Slots   int
	SlotMin int
	SlotMax int
	Seed    int64

	WorkloadCSV  string
	SaveWorkload string
	Jobs         int
	Pattern      generator.Pattern
	MeanGap      float64
	HoldFraction float64
	HoldDelay    int64

	Strategy  string
	Benchmark bool
	MaxQueued int
	Rate      float64
	Burst     int

	TickLength int64
	MaxTicks   int

	LogLevel    logrus.Level
	LogFormat   string
	MetricsAddr string
	ResultsDir  string
	Manifests   string
	Namespace   string
	TimeUnit    time.Duration
}

// envDefault returns the value of SGESIM_<name> if set, otherwise def.
func envDefault(getenv func(string) string, name, def string) string {
	if v := getenv(envPrefix + name); v != "" {
		return v
	}
	return def
}

// Load parses args over defaults taken from the environment.
func Load(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("run_sim", flag.ContinueOnError)
	fs.SetOutput(output)
	env := func(name, def string) string { return envDefault(getenv, name, def) }

	var cfg Config
	var p parser
	var slots, slotMin, slotMax, seed, jobs, pattern, meanGap string
	var holdFraction, holdDelay, maxQueued, rateFlag, burst string
	var tickLength, maxTicks, logLevel, timeUnit string
	fs.StringVar(&slots, "slots", env("SLOTS", "-1"), "fixed slot count; negative draws from -slot-min/-slot-max")
	fs.StringVar(&slotMin, "slot-min", env("SLOT_MIN", strconv.Itoa(core.DefaultSlotRange.Min)), "lower bound of the slot range (inclusive)")
	fs.StringVar(&slotMax, "slot-max", env("SLOT_MAX", strconv.Itoa(core.DefaultSlotRange.Max)), "upper bound of the slot range (exclusive)")
	fs.StringVar(&seed, "seed", env("SEED", "0"), "random seed; 0 uses the current time")
	fs.StringVar(&cfg.WorkloadCSV, "wl-csv", env("WL_CSV", ""), "path to workloads CSV (generated if empty)")
	fs.StringVar(&cfg.SaveWorkload, "save-wl", env("SAVE_WL", ""), "write the generated workload to this CSV")
	fs.StringVar(&jobs, "jobs", env("JOBS", "100"), "number of jobs to generate")
	fs.StringVar(&pattern, "pattern", env("PATTERN", string(generator.Mixed)), "generated workload pattern: tiny, batch, long or mixed")
	fs.StringVar(&meanGap, "mean-gap", env("MEAN_GAP", "2"), "mean inter-arrival time of generated jobs")
	fs.StringVar(&holdFraction, "hold-fraction", env("HOLD_FRACTION", "0"), "share of generated jobs submitted held")
	fs.StringVar(&holdDelay, "hold-delay", env("HOLD_DELAY", "10"), "time after submission a generated held job is released")
	fs.StringVar(&cfg.Strategy, "strategy", env("STRATEGY", "submit_all"), "submission strategy: submit_all, hold_backlog or token_bucket")
	fs.BoolVar(&cfg.Benchmark, "benchmark", p.bool("SGESIM_BENCHMARK", env("BENCHMARK", "false")), "run every strategy and export a comparison")
	fs.StringVar(&maxQueued, "max-queued", env("MAX_QUEUED", "10"), "hold_backlog: jobs kept queued at once")
	fs.StringVar(&rateFlag, "rate", env("RATE", "1"), "token_bucket: submissions per time unit")
	fs.StringVar(&burst, "burst", env("BURST", "5"), "token_bucket: burst size")
	fs.StringVar(&tickLength, "tick", env("TICK", "1"), "length of one tick")
	fs.StringVar(&maxTicks, "max-ticks", env("MAX_TICKS", "100000"), "stop a run after this many ticks")
	fs.StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", env("LOG_FORMAT", "text"), "log format: text or json")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", env("METRICS_ADDR", ""), "serve Prometheus metrics on this address")
	fs.StringVar(&cfg.ResultsDir, "results", env("RESULTS", "results"), "directory for result CSVs")
	fs.StringVar(&cfg.Manifests, "manifests", env("MANIFESTS", ""), "write the final jobs as a batch/v1 JobList to this file")
	fs.StringVar(&cfg.Namespace, "namespace", env("NAMESPACE", "default"), "namespace of exported Jobs")
	fs.StringVar(&timeUnit, "time-unit", env("TIME_UNIT", "1s"), "wall-clock length of one simulated time unit in exported Jobs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments %v", fs.Args())
	}

	cfg.Slots = p.int("-slots", slots)
	cfg.SlotMin = p.int("-slot-min", slotMin)
	cfg.SlotMax = p.int("-slot-max", slotMax)
	cfg.Seed = p.int64("-seed", seed)
	cfg.Jobs = p.int("-jobs", jobs)
	cfg.MeanGap = p.float("-mean-gap", meanGap)
	cfg.HoldFraction = p.float("-hold-fraction", holdFraction)
	cfg.HoldDelay = p.int64("-hold-delay", holdDelay)
	cfg.MaxQueued = p.int("-max-queued", maxQueued)
	cfg.Rate = p.float("-rate", rateFlag)
	cfg.Burst = p.int("-burst", burst)
	cfg.TickLength = p.int64("-tick", tickLength)
	cfg.MaxTicks = p.int("-max-ticks", maxTicks)
	cfg.TimeUnit = p.duration("-time-unit", timeUnit)
	if p.err != nil {
		return nil, p.err
	}

	var err error
	if cfg.Pattern, err = generator.ParsePattern(pattern); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = logrus.ParseLevel(logLevel); err != nil {
		return nil, errors.WithStack(err)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.SlotMin < 0 || c.SlotMax < 0:
		return errors.Errorf("slot range [%d, %d) has a negative bound", c.SlotMin, c.SlotMax)
	case c.Jobs < 0:
		return errors.Errorf("jobs must not be negative, got %d", c.Jobs)
	case c.MeanGap < 0:
		return errors.Errorf("mean-gap must not be negative, got %g", c.MeanGap)
	case c.HoldFraction < 0 || c.HoldFraction > 1:
		return errors.Errorf("hold-fraction must be within [0, 1], got %g", c.HoldFraction)
	case c.TickLength <= 0:
		return errors.Wrapf(core.ErrInvalidTickLength, "tick %d", c.TickLength)
	case c.MaxTicks <= 0:
		return errors.Errorf("max-ticks must be positive, got %d", c.MaxTicks)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return errors.Errorf("unknown log format %q", c.LogFormat)
	case c.TimeUnit <= 0:
		return errors.Errorf("time-unit must be positive, got %s", c.TimeUnit)
	}
	if !c.Benchmark {
		for _, s := range strategies {
			if s == c.Strategy {
				return nil
			}
		}
		return errors.Errorf("unknown strategy %q, want one of %v", c.Strategy, strategies)
	}
	return nil
}

// SlotRange is the range capacity is drawn from when Slots is negative.
func (c *Config) SlotRange() core.SlotRange {
	return core.SlotRange{Min: c.SlotMin, Max: c.SlotMax}
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) fail(name, value string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "invalid value %q for %s", value, name)
	}
}

func (p *parser) int(name, value string) int {
	v, err := strconv.Atoi(value)
	if err != nil {
		p.fail(name, value, err)
	}
	return v
}

func (p *parser) int64(name, value string) int64 {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(name, value, err)
	}
	return v
}

func (p *parser) float(name, value string) float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(name, value, err)
	}
	return v
}

func (p *parser) bool(name, value string) bool {
	v, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(name, value, err)
	}
	return v
}

func (p *parser) duration(name, value string) time.Duration {
	v, err := time.ParseDuration(value)
	if err != nil {
		p.fail(name, value, err)
	}
	return v
}

func (c *Config) String() string {
	return fmt.Sprintf("slots=%d range=[%d,%d) strategy=%s benchmark=%t tick=%d", c.Slots, c.SlotMin, c.SlotMax, c.Strategy, c.Benchmark, c.TickLength)
}
