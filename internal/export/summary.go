package export

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"citycrawler/internal/crawler"
)

// WriteSummary prints the outcome of a crawl run.
func WriteSummary(w io.Writer, s crawler.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("run " + s.RunID)
	status := "ok"
	if s.Err != nil {
		status = s.Err.Error()
	}
	t.AppendRows([]table.Row{
		{"Root", s.RootURL},
		{"Policy", s.Policy},
		{"Discovered", s.Discovered},
		{"Resumed", s.Resumed},
		{"Completed", s.Completed},
		{"Partial", s.Partial},
		{"Blocked", s.Blocked},
		{"Deferred", s.Deferred},
		{"Items", s.Items},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"Status", status},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	var failed []crawler.ChildState
	for _, c := range s.Children {
		if c.Status == crawler.StatusFailed || c.Status == crawler.StatusPartial {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetTitle("incomplete children")
	ft.AppendHeader(table.Row{"Child", "Status", "Items", "Error"})
	for _, c := range failed {
		msg := ""
		if c.Err != nil {
			msg = c.Err.Error()
		}
		ft.AppendRow(table.Row{c.Key, string(c.Status), c.Items, msg})
	}
	ft.SetStyle(table.StyleRounded)
	ft.Render()
}
