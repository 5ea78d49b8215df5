package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/picost/server/internal/database"
)

func TestFormatting(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"count", formatCount(1234567), "1,234,567"},
		{"small count", formatCount(7), "7"},
		{"cost", formatCost(1234.5), "$1,234.5000"},
		{"cheap cost", formatCost(0.00126), "$0.0013"},
		{"share", costShare(1, 4), "25.0%"},
		{"share of nothing", costShare(1, 0), "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestCostTableRenders(t *testing.T) {
	tmpl, err := Parse()
	require.NoError(t, err)

	var out strings.Builder
	err = tmpl.ExecuteTemplate(&out, "cost-table.html", map[string]any{
		"Days": []database.CostRow{{Key: "2025-01-01", Sessions: 2, Cost: 4}},
		"Models": []database.CostRow{
			{Key: "sonnet", Sessions: 2, Cost: 3},
			{Key: "(unknown)", Sessions: 1, Cost: 1},
		},
		"Total": &database.CostRow{Key: "Total", Sessions: 2, Cost: 4},
	})
	require.NoError(t, err)

	html := out.String()
	assert.Contains(t, html, "2025-01-01")
	assert.Contains(t, html, "75.0%")
	assert.Contains(t, html, "25.0%")
	assert.Contains(t, html, "$4.0000")
	assert.NotContains(t, html, "No sessions synced yet")
}

func TestCostTableEmpty(t *testing.T) {
	tmpl, err := Parse()
	require.NoError(t, err)

	var out strings.Builder
	err = tmpl.ExecuteTemplate(&out, "cost-table.html", map[string]any{
		"Total": &database.CostRow{Key: "Total"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No sessions synced yet")
}
