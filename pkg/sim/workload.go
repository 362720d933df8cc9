package sim

import (
	"cmp"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/g-uva/sgesim/pkg/core"
)

// Workload is one job submission in a simulated run.
type Workload struct {
	ID      string
	Submit  int64 // arrival time in simulated units
	Runtime int64
	// Hold submits the job held; it is released at ReleaseAt if that is set.
	Hold      bool
	ReleaseAt int64
}

func (w Workload) initialStatus() core.Status {
	if w.Hold {
		return core.StatusHold
	}
	return core.StatusQueued
}

// Validate checks a workload set before it is fed to a scheduler.
func Validate(ws []Workload) error {
	seen := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		if w.ID == "" {
			return errors.New("workload with empty id")
		}
		if _, dup := seen[w.ID]; dup {
			return errors.Wrapf(core.ErrDuplicateID, "workload %q", w.ID)
		}
		seen[w.ID] = struct{}{}
		if w.Runtime <= 0 {
			return errors.Wrapf(core.ErrInvalidRuntime, "workload %q has runtime %d", w.ID, w.Runtime)
		}
		if w.Submit < 0 {
			return errors.Errorf("workload %q submitted at negative time %d", w.ID, w.Submit)
		}
		if w.ReleaseAt != 0 && w.ReleaseAt < w.Submit {
			return errors.Errorf("workload %q released at %d before its submit time %d", w.ID, w.ReleaseAt, w.Submit)
		}
	}
	return nil
}

// sortBySubmit returns a copy ordered by arrival, keeping input order for ties.
func sortBySubmit(ws []Workload) []Workload {
	out := slices.Clone(ws)
	slices.SortStableFunc(out, func(a, b Workload) int { return cmp.Compare(a.Submit, b.Submit) })
	return out
}
