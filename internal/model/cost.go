package model

import "time"

// ModelKey identifies the model a cost is attributed to. A message without a
// model field maps to the zero value, NoModel, which is distinct from a model
// explicitly named "".
type ModelKey struct {
	Name  string
	Known bool
}

// NoModel is the key for costs whose message did not name a model
var NoModel = ModelKey{}

// NamedModel returns the key for a named model
func NamedModel(name string) ModelKey {
	return ModelKey{Name: name, Known: true}
}

// String returns the model name, or "(unknown)" for NoModel
func (k ModelKey) String() string {
	if !k.Known {
		return "(unknown)"
	}
	return k.Name
}

// CostsByModel accumulates cost totals keyed by model
type CostsByModel map[ModelKey]float64

// Add adds cost to the running total for key, starting from zero
func (c CostsByModel) Add(key ModelKey, cost float64) {
	c[key] = c[key] + cost
}

// Total returns the sum of all model totals
func (c CostsByModel) Total() float64 {
	var total float64
	for _, v := range c {
		total += v
	}
	return total
}

// SessionCost is the result of scanning one session log file
type SessionCost struct {
	Path         string
	SessionStart string // raw timestamp of the last session marker, empty if none
	CostsByModel CostsByModel
}

// HasSession reports whether a session marker with a usable timestamp was
// seen. A marker whose timestamp is empty or not a string counts as no
// marker. Files without one are not reportable.
func (s *SessionCost) HasSession() bool {
	return s.SessionStart != ""
}

// StartTime parses SessionStart as an RFC 3339 timestamp
func (s *SessionCost) StartTime() (time.Time, bool) {
	if s.SessionStart == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.SessionStart)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Total returns the summed cost across all models
func (s *SessionCost) Total() float64 {
	return s.CostsByModel.Total()
}

// ModelCost is one row of a per-model breakdown
type ModelCost struct {
	Model ModelKey
	Cost  float64
}

// SessionSummary is a reportable session with its sorted model breakdown
type SessionSummary struct {
	Path      string
	StartRaw  string
	Start     time.Time // zero if StartRaw is not RFC 3339
	Models    []ModelCost
	TotalCost float64
}

// Report is the cross-file summary handed to the renderer
type Report struct {
	Sessions []SessionSummary
	Models   []ModelCost
	Total    float64
	Skipped  int // files without a session marker or outside the date range
}
