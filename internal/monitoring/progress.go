// internal/monitoring/progress.go
package monitoring

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/valpere/craigslist-data/internal/scraper"
	"github.com/valpere/craigslist-data/internal/utils"
)

// ProgressReporter draws a progress bar for the listing phase.
type ProgressReporter struct {
	pw      progress.Writer
	tracker *progress.Tracker
	failed  int
	enabled bool
}

// NewProgressReporter creates a reporter writing to out. A disabled
// reporter ignores every update.
func NewProgressReporter(out io.Writer, enabled bool) *ProgressReporter {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(200 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Percentage = true
	pw.Style().Visibility.Value = true

	return &ProgressReporter{pw: pw, enabled: enabled}
}

// Update records that done of total listings have been processed.
func (p *ProgressReporter) Update(done, total int, err error) {
	if !p.enabled {
		return
	}
	if p.tracker == nil {
		p.tracker = &progress.Tracker{
			Message: "Scraping listings",
			Total:   int64(total),
			Units:   progress.UnitsDefault,
		}
		p.pw.AppendTracker(p.tracker)
		go p.pw.Render()
	}
	if err != nil {
		p.failed++
		p.tracker.UpdateMessage(fmt.Sprintf("Scraping listings (%d failed)", p.failed))
	}
	p.tracker.SetValue(int64(done))
}

// Stop finishes the bar and waits for the final frame.
func (p *ProgressReporter) Stop() {
	if !p.enabled || p.tracker == nil {
		return
	}
	p.tracker.MarkAsDone()
	p.pw.Stop()
	for p.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}

// RenderSummary prints a table describing the finished run and, when any
// listings failed, a second table naming them.
func RenderSummary(w io.Writer, command, target string, result *scraper.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("craigslist-data %s", command))
	t.AppendRows([]table.Row{
		{"Status", result.Status},
		{"Search pages", result.Pages},
		{"Search results", len(result.SearchResults)},
		{"Apartments", len(result.Apartments)},
		{"Failed listings", len(result.Failures)},
		{"Duration", utils.FormatDuration(result.Duration)},
	})
	if target != "" {
		t.AppendRow(table.Row{"Output", target})
	}
	t.Render()

	if len(result.Failures) == 0 {
		return
	}

	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.SetStyle(table.StyleRounded)
	f.AppendHeader(table.Row{"Post ID", "URL", "Error"})
	for _, failure := range result.Failures {
		f.AppendRow(table.Row{failure.PostID, failure.URL, utils.TruncateString(failure.Message, 80)})
	}
	f.Render()
}
