// Package report renders catalogued runs of an experiment as a Markdown
// table, optionally converted to HTML.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/harrison/ultrasession/internal/catalog"
	"github.com/harrison/ultrasession/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Report summarizes the runs of one experiment.
type Report struct {
	ExpDir string
	Runs   []catalog.Record
}

// New creates a report over records, which are expected in timestamp order.
func New(expDir string, records []catalog.Record) *Report {
	return &Report{ExpDir: expDir, Runs: records}
}

// Counts returns the number of runs per status.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int)
	for _, rec := range r.Runs {
		counts[rec.Status]++
	}
	return counts
}

// varNames returns runtime variable names in order of first appearance.
func (r *Report) varNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range r.Runs {
		for _, v := range rec.RuntimeVars {
			if !seen[v.Name] {
				seen[v.Name] = true
				names = append(names, v.Name)
			}
		}
	}
	return names
}

// Markdown renders the report with one table row per run.
func (r *Report) Markdown() string {
	var b strings.Builder
	counts := r.Counts()

	b.WriteString("# Experiment report\n\n")
	fmt.Fprintf(&b, "Experiment: `%s`\n\n", r.ExpDir)
	fmt.Fprintf(&b, "Runs: %d (processed %d, acquired %d, failed %d)\n\n",
		len(r.Runs), counts[models.RunProcessed], counts[models.RunAcquired], counts[models.RunFailed])

	if len(r.Runs) == 0 {
		b.WriteString("No runs catalogued.\n")
		return b.String()
	}

	vars := r.varNames()
	header := append([]string{"Timestamp", "Status", "Stimulus", "Frames", "Pulses", "Frame rate (Hz)", "Pulse range (s)"}, vars...)
	writeRow(&b, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)

	for _, rec := range r.Runs {
		row := []string{
			rec.Timestamp,
			rec.Status,
			optString(rec.Stimulus),
			optInt(rec.Frames),
			optInt(rec.PulseCount),
			optFloat(rec.FrameRate, "%.2f"),
			pulseRange(rec),
		}
		for _, name := range vars {
			row = append(row, varValue(rec.RuntimeVars, name))
		}
		writeRow(&b, row)
	}
	return b.String()
}

// WriteMarkdown writes the Markdown report to w.
func (r *Report) WriteMarkdown(w io.Writer) error {
	_, err := io.WriteString(w, r.Markdown())
	return err
}

// WriteHTML renders the Markdown report to HTML.
func (r *Report) WriteHTML(w io.Writer) error {
	return RenderHTML([]byte(r.Markdown()), w)
}

// RenderHTML converts GitHub-flavoured Markdown tables to HTML.
func RenderHTML(source []byte, w io.Writer) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func optString(o models.Optional[string]) string {
	if v, ok := o.Get(); ok {
		return v
	}
	return "-"
}

func optInt(o models.Optional[int]) string {
	if v, ok := o.Get(); ok {
		return fmt.Sprintf("%d", v)
	}
	return "-"
}

func optFloat(o models.Optional[float64], format string) string {
	if v, ok := o.Get(); ok {
		return fmt.Sprintf(format, v)
	}
	return "-"
}

func pulseRange(rec catalog.Record) string {
	lo, okLo := rec.PulseMin.Get()
	hi, okHi := rec.PulseMax.Get()
	if !okLo || !okHi {
		return "-"
	}
	return fmt.Sprintf("%.4f-%.4f", lo, hi)
}

func varValue(vars []models.RuntimeVariable, name string) string {
	for _, v := range vars {
		if v.Name == name {
			return v.Value
		}
	}
	return ""
}
