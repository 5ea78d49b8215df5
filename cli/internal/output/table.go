package output

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/zhaobenny/picost/internal/model"
)

const (
	compactThreshold = 60 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
	costWidth        = 12
	compactKeyWidth  = 20
	sessionTimeFmt   = "2006-01-02 15:04:05"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	sessionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	totalStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Faint(true)

	datedModelRe    = regexp.MustCompile(`^claude-(\w+)-([\d-]+)-(\d{8})$`)
	plainModelRe    = regexp.MustCompile(`^claude-(\w+)-([\d-]+)$`)
	providerModelRe = regexp.MustCompile(`^[\w-]+/(.+)$`)
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
	Color        bool
}

func (o TableOptions) compact() bool {
	if o.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

func (o TableOptions) style(s lipgloss.Style, text string) string {
	if !o.Color {
		return text
	}
	return s.Render(text)
}

// FormatCost formats a cost with four decimal places
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// shortenModelName converts full model names to short form
// claude-sonnet-4-5-20250929 -> sonnet-4-5
// anthropic/claude-opus-4-5 -> opus-4-5
func shortenModelName(name string) string {
	if m := providerModelRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	if m := datedModelRe.FindStringSubmatch(name); m != nil {
		return m[1] + "-" + m[2]
	}
	if m := plainModelRe.FindStringSubmatch(name); m != nil {
		return m[1] + "-" + m[2]
	}
	return name
}

// SessionLabel returns the display label for a session start
func SessionLabel(s model.SessionSummary) string {
	if s.Start.IsZero() {
		return s.StartRaw
	}
	return s.Start.Format(sessionTimeFmt)
}

func modelLabel(k model.ModelKey, compact bool) string {
	label := k.String()
	if compact && k.Known {
		label = shortenModelName(label)
		if len(label) > compactKeyWidth {
			label = label[:compactKeyWidth-3] + "..."
		}
	}
	return label
}

// PrintReport prints one cost table per session followed by the grand total
func PrintReport(w io.Writer, report *model.Report, opts TableOptions) {
	if len(report.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		printSkipped(w, report.Skipped, opts)
		return
	}

	compact := opts.compact()

	keyWidth := len("Session total")
	for _, s := range report.Sessions {
		for _, m := range s.Models {
			if l := len(modelLabel(m.Model, compact)); l > keyWidth {
				keyWidth = l
			}
		}
	}
	rule := strings.Repeat("─", keyWidth+2+costWidth)

	for _, s := range report.Sessions {
		label := "Session " + SessionLabel(s)
		fmt.Fprintln(w)
		if compact {
			fmt.Fprintln(w, opts.style(sessionStyle, label))
		} else {
			fmt.Fprintf(w, "%s  %s\n", opts.style(sessionStyle, label), opts.style(dimStyle, filepath.Base(s.Path)))
		}

		fmt.Fprintln(w, opts.style(headerStyle, fmt.Sprintf("%-*s  %*s", keyWidth, "Model", costWidth, "Cost")))
		fmt.Fprintln(w, rule)
		for _, m := range s.Models {
			fmt.Fprintf(w, "%-*s  %*s\n", keyWidth, modelLabel(m.Model, compact), costWidth, FormatCost(m.Cost))
		}
		if len(s.Models) > 1 {
			fmt.Fprintln(w, rule)
			fmt.Fprintf(w, "%-*s  %*s\n", keyWidth, "Session total", costWidth, FormatCost(s.TotalCost))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("═", keyWidth+2+costWidth))
	total := fmt.Sprintf("%-*s  %*s", keyWidth, "Total", costWidth, FormatCost(report.Total))
	fmt.Fprintln(w, opts.style(totalStyle, total))
	fmt.Fprintf(w, "%d session(s)\n", len(report.Sessions))
	printSkipped(w, report.Skipped, opts)
	fmt.Fprintln(w)
}

// PrintModels prints the cross-session per-model totals
func PrintModels(w io.Writer, report *model.Report, opts TableOptions) {
	if len(report.Models) == 0 {
		fmt.Fprintln(w, "No costs found.")
		printSkipped(w, report.Skipped, opts)
		return
	}

	compact := opts.compact()

	keyWidth := len("Model")
	for _, m := range report.Models {
		if l := len(modelLabel(m.Model, compact)); l > keyWidth {
			keyWidth = l
		}
	}
	rule := strings.Repeat("─", keyWidth+2+costWidth)

	fmt.Fprintln(w)
	fmt.Fprintln(w, opts.style(headerStyle, fmt.Sprintf("%-*s  %*s", keyWidth, "Model", costWidth, "Cost")))
	fmt.Fprintln(w, rule)
	for _, m := range report.Models {
		fmt.Fprintf(w, "%-*s  %*s\n", keyWidth, modelLabel(m.Model, compact), costWidth, FormatCost(m.Cost))
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, opts.style(totalStyle, fmt.Sprintf("%-*s  %*s", keyWidth, "Total", costWidth, FormatCost(report.Total))))
	printSkipped(w, report.Skipped, opts)
	fmt.Fprintln(w)
}

func printSkipped(w io.Writer, skipped int, opts TableOptions) {
	if skipped > 0 {
		fmt.Fprintln(w, opts.style(dimStyle, fmt.Sprintf("(%d file(s) skipped: no session start or outside date range)", skipped)))
	}
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Sessions []JSONSession   `json:"sessions"`
	Models   []JSONModelCost `json:"models"`
	Total    float64         `json:"total"`
	Skipped  int             `json:"skipped"`
}

// JSONSession represents a single session in JSON format
type JSONSession struct {
	File         string          `json:"file"`
	SessionStart string          `json:"session_start"`
	Models       []JSONModelCost `json:"models"`
	Total        float64         `json:"total"`
}

// JSONModelCost is one model's cost. Model is null when the log did not name one.
type JSONModelCost struct {
	Model *string `json:"model"`
	Cost  float64 `json:"cost"`
}

func toJSONModels(rows []model.ModelCost) []JSONModelCost {
	out := make([]JSONModelCost, len(rows))
	for i, r := range rows {
		out[i].Cost = r.Cost
		if r.Model.Known {
			name := r.Model.Name
			out[i].Model = &name
		}
	}
	return out
}

// PrintJSON outputs the report as indented JSON
func PrintJSON(w io.Writer, report *model.Report) error {
	out := JSONOutput{
		Sessions: make([]JSONSession, len(report.Sessions)),
		Models:   toJSONModels(report.Models),
		Total:    report.Total,
		Skipped:  report.Skipped,
	}

	for i, s := range report.Sessions {
		out.Sessions[i] = JSONSession{
			File:         s.Path,
			SessionStart: s.StartRaw,
			Models:       toJSONModels(s.Models),
			Total:        s.TotalCost,
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
