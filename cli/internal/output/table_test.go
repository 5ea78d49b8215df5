package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/picost/internal/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		Sessions: []model.SessionSummary{
			{
				Path:     "/logs/2025-01-02_abc.jsonl",
				StartRaw: "2025-01-02T11:00:00Z",
				Start:    time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC),
				Models: []model.ModelCost{
					{Model: model.NamedModel("claude-sonnet-4-5-20250929"), Cost: 1.23456},
					{Model: model.NoModel, Cost: 0.5},
				},
				TotalCost: 1.73456,
			},
		},
		Models: []model.ModelCost{
			{Model: model.NamedModel("claude-sonnet-4-5-20250929"), Cost: 1.23456},
			{Model: model.NoModel, Cost: 0.5},
		},
		Total:   1.73456,
		Skipped: 2,
	}
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.0000", FormatCost(0))
	assert.Equal(t, "$1.2346", FormatCost(1.23456))
	assert.Equal(t, "$12.5000", FormatCost(12.5))
}

func TestShortenModelName(t *testing.T) {
	tests := map[string]string{
		"claude-sonnet-4-5-20250929": "sonnet-4-5",
		"claude-opus-4-20250514":     "opus-4",
		"claude-opus-4-5":            "opus-4-5",
		"anthropic/claude-opus-4-5":  "opus-4-5",
		"openai/gpt-5":               "gpt-5",
		"gpt-5":                      "gpt-5",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, shortenModelName(in), in)
	}
}

func TestSessionLabelFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "whenever", SessionLabel(model.SessionSummary{StartRaw: "whenever"}))
	assert.Equal(t, "2025-01-02 11:00:00", SessionLabel(sampleReport().Sessions[0]))
}

func TestPrintReport(t *testing.T) {
	t.Setenv("COLUMNS", "120")

	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(), TableOptions{})
	out := buf.String()

	assert.Contains(t, out, "Session 2025-01-02 11:00:00")
	assert.Contains(t, out, "2025-01-02_abc.jsonl")
	assert.Contains(t, out, "claude-sonnet-4-5-20250929")
	assert.Contains(t, out, "$1.2346")
	assert.Contains(t, out, "(unknown)")
	assert.Contains(t, out, "$0.5000")
	assert.Contains(t, out, "Session total")
	assert.Contains(t, out, "$1.7346")
	assert.Contains(t, out, "1 session(s)")
	assert.Contains(t, out, "2 file(s) skipped")
	assert.NotContains(t, out, "\x1b[", "no ANSI codes without color")
}

func TestPrintReportCompact(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(), TableOptions{ForceCompact: true})
	out := buf.String()

	assert.Contains(t, out, "sonnet-4-5 ")
	assert.NotContains(t, out, "claude-sonnet-4-5-20250929")
	assert.NotContains(t, out, "abc.jsonl")
}

func TestPrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, &model.Report{Skipped: 1}, TableOptions{})

	assert.True(t, strings.HasPrefix(buf.String(), "No sessions found."))
	assert.Contains(t, buf.String(), "1 file(s) skipped")
}

func TestPrintModels(t *testing.T) {
	t.Setenv("COLUMNS", "120")

	var buf bytes.Buffer
	PrintModels(&buf, sampleReport(), TableOptions{})
	out := buf.String()

	assert.Contains(t, out, "claude-sonnet-4-5-20250929")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "$1.7346")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, sampleReport()))

	var out JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	require.Len(t, out.Sessions, 1)
	assert.Equal(t, "2025-01-02T11:00:00Z", out.Sessions[0].SessionStart)
	require.Len(t, out.Sessions[0].Models, 2)
	require.NotNil(t, out.Sessions[0].Models[0].Model)
	assert.Equal(t, "claude-sonnet-4-5-20250929", *out.Sessions[0].Models[0].Model)
	assert.Nil(t, out.Sessions[0].Models[1].Model)
	assert.InDelta(t, 1.73456, out.Total, 1e-9)
	assert.Equal(t, 2, out.Skipped)
	assert.Contains(t, buf.String(), `"model": null`)
}
