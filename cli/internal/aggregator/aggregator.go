package aggregator

import (
	"sort"
	"time"

	"github.com/zhaobenny/picost/internal/model"
)

// Options for aggregation
type Options struct {
	Since    time.Time
	Until    time.Time
	Timezone *time.Location
}

// filtered reports whether a date filter is active
func (o Options) filtered() bool {
	return !o.Since.IsZero() || !o.Until.IsZero()
}

// FilterSessions keeps sessions that have a start marker and fall inside the
// date range. It returns the kept sessions and how many were dropped.
// Sessions whose start is not a valid timestamp are dropped when a date
// range is set.
func FilterSessions(sessions []*model.SessionCost, opts Options) ([]*model.SessionCost, int) {
	var kept []*model.SessionCost
	skipped := 0

	for _, s := range sessions {
		if s == nil || !s.HasSession() {
			skipped++
			continue
		}
		if opts.filtered() {
			ts, ok := s.StartTime()
			if !ok {
				skipped++
				continue
			}
			if opts.Timezone != nil {
				ts = ts.In(opts.Timezone)
			}
			if !opts.Since.IsZero() && ts.Before(opts.Since) {
				skipped++
				continue
			}
			if !opts.Until.IsZero() && ts.After(opts.Until) {
				skipped++
				continue
			}
		}
		kept = append(kept, s)
	}

	return kept, skipped
}

// BySession builds one summary per session, oldest first
func BySession(sessions []*model.SessionCost, opts Options) []model.SessionSummary {
	results := make([]model.SessionSummary, 0, len(sessions))

	for _, s := range sessions {
		summary := model.SessionSummary{
			Path:      s.Path,
			StartRaw:  s.SessionStart,
			Models:    sortedModels(s.CostsByModel),
			TotalCost: s.Total(),
		}
		if ts, ok := s.StartTime(); ok {
			if opts.Timezone != nil {
				ts = ts.In(opts.Timezone)
			}
			summary.Start = ts
		}
		results = append(results, summary)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Start.IsZero() != b.Start.IsZero() {
			return b.Start.IsZero() // unparseable starts go last
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Path < b.Path
	})

	return results
}

// ByModel folds all sessions into per-model totals, most expensive first
func ByModel(sessions []*model.SessionCost) []model.ModelCost {
	totals := make(model.CostsByModel)
	for _, s := range sessions {
		for k, v := range s.CostsByModel {
			totals.Add(k, v)
		}
	}
	return sortedModels(totals)
}

// CalculateTotal returns the grand total across session summaries
func CalculateTotal(results []model.SessionSummary) float64 {
	var total float64
	for _, r := range results {
		total += r.TotalCost
	}
	return total
}

// Build filters sessions and assembles the full report
func Build(sessions []*model.SessionCost, opts Options) *model.Report {
	kept, skipped := FilterSessions(sessions, opts)
	bySession := BySession(kept, opts)

	return &model.Report{
		Sessions: bySession,
		Models:   ByModel(kept),
		Total:    CalculateTotal(bySession),
		Skipped:  skipped,
	}
}

func sortedModels(costs model.CostsByModel) []model.ModelCost {
	rows := make([]model.ModelCost, 0, len(costs))
	for k, v := range costs {
		rows = append(rows, model.ModelCost{Model: k, Cost: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Cost != rows[j].Cost {
			return rows[i].Cost > rows[j].Cost
		}
		if rows[i].Model.Known != rows[j].Model.Known {
			return rows[i].Model.Known
		}
		return rows[i].Model.Name < rows[j].Model.Name
	})
	return rows
}
