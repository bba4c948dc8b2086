package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/goharvest/internal/pipeline"
	"github.com/dbsmedya/goharvest/internal/syncer"
)

// maxEntityWidth bounds the failed-entity cell in display columns.
const maxEntityWidth = 48

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// renderReport prints the run report as a table followed by a status line.
func renderReport(w io.Writer, r *pipeline.Report) {
	if r == nil {
		return
	}

	t := newTable(w)
	t.SetTitle("Harvest: " + r.JobName)
	t.AppendRows([]table.Row{
		{"Catalog", r.CatalogSize},
		{"Passes", r.Passes},
		{"Succeeded", len(r.Succeeded)},
		{"Failed", len(r.Failed)},
		{"New rows", r.NewRows},
	})
	if len(r.Failed) > 0 {
		t.AppendRow(table.Row{"Failed entities", runewidth.Truncate(strings.Join(r.Failed, ", "), maxEntityWidth, "...")})
	}
	if r.Sync != nil {
		appendSyncRows(t, r.Sync)
	}
	if r.FallbackPath != "" {
		t.AppendRow(table.Row{"Local rows", r.FallbackPath})
	}
	t.AppendFooter(table.Row{"Duration", r.Duration.Round(time.Millisecond).String()})
	t.Render()

	switch {
	case r.Error != "":
		fmt.Fprintln(w, color.Red.Sprintf("FAILED: %s", r.Error))
	case len(r.Failed) > 0:
		fmt.Fprintln(w, color.Yellow.Sprintf("COMPLETED with %d residual failure(s)", len(r.Failed)))
	default:
		fmt.Fprintln(w, color.Green.Sprint("COMPLETED"))
	}
}

func appendSyncRows(t table.Writer, res *syncer.Result) {
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Sync action", res.Action},
		{"Resource", res.ResourceID},
		{"Rows (old / new / total)", fmt.Sprintf("%d / %d / %d", res.OldRows, res.NewRows, res.TotalRows)},
		{"Duplicates dropped", res.Dropped},
	})
	if len(res.MissingKeys) > 0 {
		t.AppendRow(table.Row{"Missing keys", strings.Join(res.MissingKeys, ", ")})
	}
	if v := res.Verification; v != nil {
		status := "ok"
		if !v.Match {
			status = "mismatch"
		}
		t.AppendRow(table.Row{"Verification", fmt.Sprintf("%s (%s)", v.Method, status)})
	}
}
