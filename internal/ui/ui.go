// Package ui renders results, summaries and category lists for the
// terminal. Styling is applied only when the destination is a terminal and
// NO_COLOR is unset.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/summary"
)

var (
	High   = lipgloss.Color("#FF6B6B")
	Medium = lipgloss.Color("#FFD93D")
	Low    = lipgloss.Color("#6BCB77")
	Muted  = lipgloss.Color("#6B7280")
	Accent = lipgloss.Color("#7D56F4")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(Accent).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	mutedStyle  = lipgloss.NewStyle().Foreground(Muted)
	okStyle     = lipgloss.NewStyle().Foreground(Low)
	errStyle    = lipgloss.NewStyle().Foreground(High).Bold(true)
)

const (
	maxCellWidth = 60
	columnGap    = "  "
)

// SeverityStyle returns the style for a severity label.
func SeverityStyle(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return lipgloss.NewStyle().Foreground(High).Bold(true)
	case "medium":
		return lipgloss.NewStyle().Foreground(Medium)
	default:
		return lipgloss.NewStyle().Foreground(Low)
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer writes human-readable output to w.
type Printer struct {
	w     io.Writer
	color bool
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Title prints a heading line.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.render(titleStyle, text))
}

// Table prints rows under headers with columns padded to their widest cell.
// Cells longer than maxCellWidth are truncated.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i := range headers {
			if i < len(row) {
				cells[r][i] = Truncate(row[i], maxCellWidth)
			}
			if w := lipgloss.Width(cells[r][i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := make([]string, len(headers))
	for i, h := range headers {
		line[i] = p.render(headerStyle, pad(h, widths[i]))
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(line, columnGap), " "))
	for _, row := range cells {
		for i, c := range row {
			line[i] = pad(c, widths[i])
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(line, columnGap), " "))
	}
}

// Results prints one category's page of results.
func (p *Printer) Results(name string, r analysis.Result) {
	p.Title(fmt.Sprintf("%s: %d flagged", name, r.Count))
	if len(r.Results) == 0 {
		fmt.Fprintln(p.w, p.render(mutedStyle, "No suspicious entries."))
		return
	}
	rows := make([][]string, len(r.Results))
	for i, rec := range r.Results {
		rows[i] = []string{
			rec.IP,
			rec.Timestamp,
			rec.Method,
			rec.Path,
			fmt.Sprint(rec.Status),
			rec.SuspicionReason,
		}
	}
	p.Table([]string{"IP", "TIMESTAMP", "METHOD", "PATH", "STATUS", "REASON"}, rows)
	if r.IsMore {
		fmt.Fprintf(p.w, "%s\n", p.render(mutedStyle,
			fmt.Sprintf("Showing %d of %d; use --offset/--limit for more.", len(r.Results), r.Count)))
	}
}

// CategoryRow is one line of the category listing.
type CategoryRow struct {
	Key         string
	Name        string
	Severity    string
	Description string
	Source      string
}

// Categories prints the available detectors.
func (p *Printer) Categories(rows []CategoryRow) {
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.Key, r.Name, p.render(SeverityStyle(r.Severity), r.Severity), r.Source, r.Description}
	}
	p.Table([]string{"KEY", "NAME", "SEVERITY", "SOURCE", "DESCRIPTION"}, table)
}

// Progress prints a one-line completion notice for a category.
func (p *Printer) Progress(key detector.Key, flagged int, err error) {
	if err != nil {
		fmt.Fprintf(p.w, "%s %s: %v\n", p.render(errStyle, "[x]"), key, err)
		return
	}
	fmt.Fprintf(p.w, "%s %-16s %d flagged\n", p.render(okStyle, "[+]"), key, flagged)
}

// Summary prints aggregate statistics and critical findings.
func (p *Printer) Summary(s summary.Summary, findings []summary.Finding) {
	p.Title("Threat Summary")
	fmt.Fprintf(p.w, "Total threats:     %d\n", s.TotalThreats)
	fmt.Fprintf(p.w, "Unique attackers:  %d\n", s.UniqueAttackers)
	fmt.Fprintf(p.w, "Last 24 hours:     %d\n", s.RecentThreats)
	fmt.Fprintln(p.w)

	if len(findings) > 0 {
		fmt.Fprintln(p.w, p.render(headerStyle, "Critical findings"))
		for _, f := range findings {
			fmt.Fprintf(p.w, "  %s %s (%d): %s\n",
				p.render(SeverityStyle(f.Severity), "["+f.Severity+"]"), f.Type, f.Count, f.Description)
		}
		fmt.Fprintln(p.w)
	}

	var cats [][]string
	for _, c := range sortedCounts(s.AttackTypeCounts) {
		cats = append(cats, []string{c.Key, fmt.Sprint(c.Count)})
	}
	p.Table([]string{"CATEGORY", "COUNT"}, cats)
	fmt.Fprintln(p.w)

	attackers := make([][]string, 0, len(s.TopAttackers))
	for _, a := range s.TopAttackers {
		attackers = append(attackers, []string{a.IP, fmt.Sprint(a.Count)})
	}
	p.Table([]string{"TOP ATTACKER", "COUNT"}, attackers)
	fmt.Fprintln(p.w)

	days := make([][]string, 0, len(s.Timeline))
	for _, d := range s.Timeline {
		days = append(days, []string{d.Date, fmt.Sprint(d.Count)})
	}
	p.Table([]string{"DAY", "COUNT"}, days)
}

func sortedCounts(m map[string]int) []summary.Count {
	out := make([]summary.Count, 0, len(m))
	for k, n := range m {
		out = append(out, summary.Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
