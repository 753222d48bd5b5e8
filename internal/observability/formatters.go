// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer renders the research event stream for a terminal. Report
// chunks are passed through raw so the Markdown arrives intact; every
// other event becomes a short progress line.
type Printer struct {
	out     io.Writer
	verbose bool
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// SetVerbose enables per-document progress lines.
func (p *Printer) SetVerbose(verbose bool) {
	p.verbose = verbose
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintEvent renders one event from a job's stream.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev events.Event) {
	switch payload := ev.Payload.(type) {
	case events.Processing:
		fmt.Fprintf(p.out, "\n── %s ──\n", payload.Phase)
	case events.QueryGenerated:
		fmt.Fprintf(p.out, "  [%s] query: %s\n", payload.Category, payload.Query)
	case events.DocumentFound:
		if p.verbose && payload.New {
			fmt.Fprintf(p.out, "  [%s] + %s (%.2f)\n", payload.Category, payload.URL, payload.Score)
		}
	case events.CurationComplete:
		fmt.Fprintf(p.out, "  [%s] kept %d of %d (threshold %.2f)\n",
			payload.Category, payload.Kept, payload.Initial, payload.Threshold)
	case events.ExtractionError:
		if p.verbose {
			fmt.Fprintf(p.out, "  [%s] ! %s: %s\n", payload.Category, payload.URL, payload.Error)
		}
	case events.CategoryComplete:
		suffix := ""
		if payload.Degraded {
			suffix = " (degraded)"
		}
		fmt.Fprintf(p.out, "  [%s] enriched %d of %d%s\n",
			payload.Category, payload.Enriched, payload.Total, suffix)
	case events.BriefingComplete:
		fmt.Fprintf(p.out, "  [%s] briefing %s\n", payload.Category, payload.Status)
	case events.ReportChunk:
		fmt.Fprint(p.out, payload.Chunk)
	case events.Completed:
		fmt.Fprintln(p.out)
		p.printBox("RESEARCH COMPLETE", fmt.Sprintf("Report: %d characters", len(payload.Report)))
	case events.Failed:
		fmt.Fprintln(p.out)
		p.printBox("RESEARCH FAILED", payload.Reason)
	}
}

// PrintJobSummary outputs the per-category counters of a finished job.
func (p *Printer) PrintJobSummary(job jobs.Job) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Company: %s\n", job.Input.Company))
	sb.WriteString(fmt.Sprintf("Phase:   %s\n", job.Phase))
	if job.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:   %s\n", job.Error))
	}
	sb.WriteString("\n")
	for cat, c := range job.Counts {
		sb.WriteString(fmt.Sprintf("%-10s found %2d, kept %2d, enriched %d/%d\n",
			cat, c.Initial, c.Kept, c.EnrichedDone, c.EnrichedTotal))
	}

	p.printBox("SUMMARY", strings.TrimRight(sb.String(), "\n"))
}
