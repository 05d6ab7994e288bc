package summary

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/types"
)

// Report is the JSON export of a Summary.
type Report struct {
	RunID     string                  `json:"runId"`
	State     State                   `json:"state"`
	Duration  types.Duration          `json:"duration"`
	ExitCode  int                     `json:"exitCode"`
	Metrics   map[string]ReportMetric `json:"metrics"`
	RootGroup ReportGroup             `json:"rootGroup"`
}

// ReportMetric is one metric or submetric of the export.
type ReportMetric struct {
	Type       string             `json:"type"`
	Contains   string             `json:"contains"`
	Values     map[string]float64 `json:"values"`
	Thresholds []ReportThreshold  `json:"thresholds,omitempty"`
}

// ReportThreshold is the result of one threshold expression.
type ReportThreshold struct {
	Source        string             `json:"source"`
	OK            bool               `json:"ok"`
	Observed      float64            `json:"observed"`
	FirstFailedAt types.NullDuration `json:"firstFailedAt"`
}

// ReportGroup is a group with its checks and child groups, in creation order.
type ReportGroup struct {
	Name   string        `json:"name"`
	Path   string        `json:"path"`
	Checks []ReportCheck `json:"checks"`
	Groups []ReportGroup `json:"groups"`
}

// ReportCheck is the pass and fail counts of a check.
type ReportCheck struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// NewReport converts the summary to its export form.
func NewReport(s *Summary) Report {
	r := Report{
		RunID:     s.RunID,
		State:     s.State,
		Duration:  types.Duration(s.Duration),
		ExitCode:  s.ExitCode,
		Metrics:   make(map[string]ReportMetric, len(s.Metrics)),
		RootGroup: newReportGroup(s.RootGroup),
	}
	for _, om := range s.Metrics {
		rm := ReportMetric{
			Type:     om.Metric.Type.String(),
			Contains: om.Metric.Contains.String(),
			Values:   s.metricValues(om.Sink),
		}
		for _, th := range om.Metric.Thresholds.Thresholds {
			rm.Thresholds = append(rm.Thresholds, ReportThreshold{
				Source:        th.Source,
				OK:            !th.LastFailed,
				Observed:      th.Observed,
				FirstFailedAt: th.FirstFailedAt,
			})
		}
		r.Metrics[om.Metric.Name] = rm
	}
	return r
}

func newReportGroup(g *lib.Group) ReportGroup {
	rg := ReportGroup{
		Name:   g.Name,
		Path:   g.Path,
		Checks: []ReportCheck{},
		Groups: []ReportGroup{},
	}
	for _, c := range g.SnapshotChecks() {
		passes, fails := c.Counts()
		rg.Checks = append(rg.Checks, ReportCheck{Name: c.Name, Path: c.Path, Passes: passes, Fails: fails})
	}
	for _, child := range g.SnapshotGroups() {
		rg.Groups = append(rg.Groups, newReportGroup(child))
	}
	return rg
}

// WriteJSON writes the indented JSON report.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(NewReport(s))
}

// Export writes the JSON report to a file.
func Export(fs afero.Fs, path string, s *Summary) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating the summary export %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := WriteJSON(f, s); err != nil {
		return fmt.Errorf("writing the summary export %q: %w", path, err)
	}
	return nil
}
