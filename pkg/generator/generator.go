package generator

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/g-uva/sgesim/pkg/loader"
	"github.com/g-uva/sgesim/pkg/sim"
)

type Pattern string

const (
	Tiny        Pattern = "tiny"
	Batch       Pattern = "batch"
	LongRunning Pattern = "long"
	Mixed       Pattern = "mixed"
)

func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case Tiny, Batch, LongRunning, Mixed:
		return p, nil
	}
	return "", errors.Errorf("unknown workload pattern %q", s)
}

// Spec controls a generated workload.
type Spec struct {
	Jobs    int
	Seed    int64
	Pattern Pattern
	// MeanGap is the mean inter-arrival time; 0 submits everything at once.
	MeanGap float64
	// HoldFraction of the jobs are submitted held and released HoldDelay later.
	HoldFraction float64
	HoldDelay    int64
}

// GenerateWorkloads builds a reproducible workload: the same Spec always
// yields the same jobs, ids included.
func GenerateWorkloads(spec Spec) ([]sim.Workload, error) {
	if spec.Jobs < 0 {
		return nil, errors.Errorf("negative job count %d", spec.Jobs)
	}
	if spec.Pattern == "" {
		spec.Pattern = Mixed
	}
	if _, err := ParsePattern(string(spec.Pattern)); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	wls := make([]sim.Workload, 0, spec.Jobs)
	var now float64
	for i := 0; i < spec.Jobs; i++ {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, errors.Wrap(err, "generating job id")
		}
		w := sim.Workload{
			ID:      fmt.Sprintf("%s-%d-%s", spec.Pattern, i, id.String()[:8]),
			Submit:  int64(now),
			Runtime: runtimeFor(spec.Pattern, rng),
		}
		if spec.HoldFraction > 0 && rng.Float64() < spec.HoldFraction {
			w.Hold = true
			if spec.HoldDelay > 0 {
				w.ReleaseAt = w.Submit + spec.HoldDelay
			}
		}
		wls = append(wls, w)

		// inter-arrival: Poisson with the given mean gap
		if spec.MeanGap > 0 {
			now += rng.ExpFloat64() * spec.MeanGap
		}
	}
	return wls, nil
}

func runtimeFor(p Pattern, rng *rand.Rand) int64 {
	switch p {
	case Tiny:
		return int64(rng.Intn(5) + 1) // 1–5
	case Batch:
		return int64(rng.Intn(41) + 20) // 20–60
	case LongRunning:
		return int64(rng.Intn(201) + 200) // 200–400
	default:
		sub := []Pattern{Tiny, Tiny, Batch, LongRunning}
		return runtimeFor(sub[rng.Intn(len(sub))], rng)
	}
}

// GenerateWorkloadsCSV writes a generated workload to path.
func GenerateWorkloadsCSV(path string, spec Spec) error {
	wls, err := GenerateWorkloads(spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating dirs for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	if err := loader.WriteWorkloads(f, wls); err != nil {
		return errors.WithMessagef(err, "writing %s", path)
	}
	return nil
}
