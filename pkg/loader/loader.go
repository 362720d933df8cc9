package loader

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/g-uva/sgesim/pkg/core"
	"github.com/g-uva/sgesim/pkg/sim"
)

// Header is the column layout written by the generator. Only id is
// mandatory when reading; missing columns take their defaults.
var Header = []string{"id", "submit", "runtime", "status", "release"}

// LoadWorkloadsFromCSV parses a CSV of:
//
//	id,submit,runtime,status,release
//
// where status is "queued" (default) or "hold", runtime defaults to
// core.DefaultRuntime and release is the time a held job is let go.
func LoadWorkloadsFromCSV(path string) ([]sim.Workload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "LoadWorkloadsFromCSV: open %s", path)
	}
	defer f.Close()

	wls, err := ReadWorkloads(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "LoadWorkloadsFromCSV: %s", path)
	}
	return wls, nil
}

// ReadWorkloads parses workload CSV from r. The first row is the header.
func ReadWorkloads(r io.Reader) ([]sim.Workload, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	head, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, errors.Errorf("header %v has no id column", head)
	}

	var wls []sim.Workload
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "read record")
		}
		line, _ := cr.FieldPos(0)

		w, err := parseRecord(rec, cols)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", line)
		}
		wls = append(wls, w)
	}

	if err := sim.Validate(wls); err != nil {
		return nil, err
	}
	return wls, nil
}

func parseRecord(rec []string, cols map[string]int) (sim.Workload, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	w := sim.Workload{ID: field("id"), Runtime: core.DefaultRuntime}
	if w.ID == "" {
		return w, errors.New("empty id")
	}

	var err error
	if v := field("submit"); v != "" {
		if w.Submit, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errors.Wrapf(err, "job %q: submit", w.ID)
		}
	}
	if v := field("runtime"); v != "" {
		if w.Runtime, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errors.Wrapf(err, "job %q: runtime", w.ID)
		}
	}
	if v := field("status"); v != "" {
		status, err := core.ParseStatus(strings.ToLower(v))
		if err != nil {
			return w, errors.WithMessagef(err, "job %q", w.ID)
		}
		if !status.Registrable() {
			return w, errors.Wrapf(core.ErrInvalidStatus, "job %q requested %s", w.ID, status)
		}
		w.Hold = status == core.StatusHold
	}
	if v := field("release"); v != "" {
		if w.ReleaseAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errors.Wrapf(err, "job %q: release", w.ID)
		}
	}
	return w, nil
}

// WriteWorkloads writes wls in the layout ReadWorkloads expects.
func WriteWorkloads(w io.Writer, wls []sim.Workload) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for _, wl := range wls {
		status := core.StatusQueued
		release := ""
		if wl.Hold {
			status = core.StatusHold
			if wl.ReleaseAt > 0 {
				release = strconv.FormatInt(wl.ReleaseAt, 10)
			}
		}
		row := []string{
			wl.ID,
			strconv.FormatInt(wl.Submit, 10),
			strconv.FormatInt(wl.Runtime, 10),
			status.String(),
			release,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "writing %s", wl.ID)
		}
	}
	cw.Flush()
	return cw.Error()
}
