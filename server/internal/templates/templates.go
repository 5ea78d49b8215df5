package templates

import (
	"embed"
	"html/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed *.html partials/*.html
var FS embed.FS

// Dashboard figures use English digit grouping: 1,234 sessions, $1,234.5678
var printer = message.NewPrinter(language.English)

// Parse returns the parsed templates with the cost formatting functions
func Parse() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatCount": formatCount,
		"formatCost":  formatCost,
		"costShare":   costShare,
	}

	return template.New("").Funcs(funcMap).ParseFS(FS, "*.html", "partials/*.html")
}

func formatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// formatCost uses the CLI's four decimals
func formatCost(cost float64) string {
	return printer.Sprintf("$%.4f", cost)
}

// costShare is part as a percentage of whole, "-" when whole is not positive
func costShare(part, whole float64) string {
	if whole <= 0 {
		return "-"
	}
	return printer.Sprintf("%.1f%%", part/whole*100)
}
