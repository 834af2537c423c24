package util

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"github.com/mitchellh/go-wordwrap"
)

// NewTable returns a table laid out like every cohortctl listing.
func NewTable(headers ...interface{}) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow(headers...)
	return table
}

// PrintJSON writes v indented.
func PrintJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// Status colors a task, job or member state.
func Status(s string, enabled bool) string {
	if !enabled {
		return s
	}
	switch s {
	case "delivered", "answered", "completed", "succeeded":
		return color.GreenString(s)
	case "failed", "expired":
		return color.RedString(s)
	case "cancelled":
		return color.YellowString(s)
	default:
		return color.CyanString(s)
	}
}

// Money formats a dollar amount.
func Money(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

// Age renders how long ago t was, "-" for the zero time.
func Age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Wrap breaks s at width columns.
func Wrap(s string, width uint) string {
	return wordwrap.WrapString(s, width)
}

// Truncate shortens s to n runes on one line.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RenderMarkdown renders md for a terminal of the given width. Rendering
// errors fall back to the raw text.
func RenderMarkdown(md string, width int, colored bool) string {
	style := "notty"
	if colored {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
