package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type tone struct {
	symbol string
	attr   color.Attribute
}

var (
	toneOK   = tone{"✓", color.FgGreen}
	toneWarn = tone{"!", color.FgYellow}
	toneNote = tone{"·", color.FgCyan}
	toneItem = tone{"  -", color.FgHiBlack}
)

// UI renders command output for operators. In JSON mode only JSON reaches
// stdout; bars and spinners always go to stderr.
type UI struct {
	out      io.Writer
	bars     *mpb.Progress
	noColor  bool
	jsonMode bool
}

func NewUI(jsonMode, noColor bool) *UI {
	if noColor || !stdoutIsTerminal() {
		color.NoColor = true
		noColor = true
	}
	return &UI{out: os.Stdout, noColor: noColor, jsonMode: jsonMode}
}

// Close flushes the session bars, if any were started.
func (ui *UI) Close() {
	if ui.bars == nil {
		return
	}
	if stdoutIsTerminal() {
		ui.bars.Wait()
	} else {
		ui.bars.Shutdown()
	}
	ui.bars = nil
}

func (ui *UI) Success(format string, args ...any) { ui.say(toneOK, format, args...) }
func (ui *UI) Warning(format string, args ...any) { ui.say(toneWarn, format, args...) }
func (ui *UI) Info(format string, args ...any)    { ui.say(toneNote, format, args...) }
func (ui *UI) Step(format string, args ...any)    { ui.say(toneItem, format, args...) }

func (ui *UI) say(t tone, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	text := t.symbol + " " + fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintln(ui.out, text)
		return
	}
	color.New(t.attr).Fprintln(ui.out, text)
}

// SessionBar adds one harvest session's bar to the shared display.
func (ui *UI) SessionBar(label string, items int64) *mpb.Bar {
	if ui.jsonMode {
		return nil
	}
	if ui.bars == nil {
		ui.bars = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr), mpb.WithRefreshRate(150*time.Millisecond))
	}
	return ui.bars.AddBar(items,
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d/%d pages", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_MMSS, decor.WCSyncWidth), "harvested"),
		),
	)
}

// ProgressBar tracks staged records through a merge.
func (ui *UI) ProgressBar(records int64, label string) *progressbar.ProgressBar {
	if ui.jsonMode {
		return nil
	}
	return progressbar.NewOptions64(records,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(32),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionEnableColorCodes(!ui.noColor),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

// Spinner runs while a step with no known size is in flight. The returned
// func stops it and is safe to call in JSON mode.
func (ui *UI) Spinner(label string) func() {
	if ui.jsonMode || !stdoutIsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + label
	s.Start()
	return s.Stop
}

func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	heading := "== " + title + " =="
	fmt.Fprintln(ui.out)
	if ui.noColor {
		fmt.Fprintln(ui.out, heading)
		return
	}
	color.New(color.Bold).Fprintln(ui.out, heading)
}

// Counter is one labelled figure in a run summary.
type Counter struct {
	Label string
	Value any
}

// Counters prints aligned label/value pairs under the current section.
func (ui *UI) Counters(counters ...Counter) {
	if ui.jsonMode {
		return
	}
	width := 0
	for _, c := range counters {
		width = max(width, len(c.Label))
	}
	for _, c := range counters {
		fmt.Fprintf(ui.out, "  %-*s  %v\n", width, c.Label, c.Value)
	}
}

// Table prints rows under a bold header line, padding each column to its
// widest cell.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}
	widths := columnWidths(headers, rows)
	render := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	head := render(headers)
	if ui.noColor {
		fmt.Fprintln(ui.out, head)
	} else {
		color.New(color.Bold).Fprintln(ui.out, head)
	}
	for _, row := range rows {
		fmt.Fprintln(ui.out, render(row))
	}
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(row[i]))
		}
	}
	return widths
}

func (ui *UI) JSON(v any) error {
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatDuration rounds d for display in run summaries.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
