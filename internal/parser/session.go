package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/internal/model"
	"go.uber.org/zap"
)

const (
	recordTypeSession = "session"
	toolNameSubagent  = "subagent"
)

// ErrUnreadableCost is wrapped by a MalformedRecordError when a record
// carries a cost that is not an object with a numeric total
var ErrUnreadableCost = errors.New("unreadable cost")

// MalformedRecordError reports a normalized line that is not valid JSON or
// whose cost cannot be read. It aborts processing of the file.
type MalformedRecordError struct {
	Path string // empty when the content did not come from a file
	Line int    // 1-based line of the normalized content
	Text string
	Err  error
}

func (e *MalformedRecordError) Error() string {
	snippet := e.Text
	if len(snippet) > 80 {
		snippet = snippet[:77] + "..."
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: malformed record on line %d (%q): %v", e.Path, e.Line, snippet, e.Err)
	}
	return fmt.Sprintf("malformed record on line %d (%q): %v", e.Line, snippet, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// ProcessContent normalizes raw session log content and aggregates it
func ProcessContent(ctx context.Context, content string) (*model.SessionCost, error) {
	return ProcessLines(ctx, NormalizeString(content))
}

// ProcessLines aggregates newline-delimited session records into per-model
// costs and the session start timestamp. Costs nested in sub-agent results
// are folded into the same totals as top-level messages.
//
// Keys are matched exactly: "Message" or "TYPE" are not the fields the log
// format defines and are ignored.
func ProcessLines(ctx context.Context, lines string) (*model.SessionCost, error) {
	log := logger.FromContext(ctx)
	result := &model.SessionCost{CostsByModel: make(model.CostsByModel)}

	for i, line := range strings.Split(lines, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if err := checkSyntax(line); err != nil {
			log.Error("erroneous line", zap.Int("line", i+1), zap.String("text", line), zap.Error(err))
			return nil, &MalformedRecordError{Line: i + 1, Text: line, Err: err}
		}

		rec := gjson.Parse(line)
		if isString(rec.Get("type"), recordTypeSession) {
			result.SessionStart = ""
			if ts := rec.Get("timestamp"); ts.Type == gjson.String {
				result.SessionStart = ts.Str
			} else if ts.Exists() {
				log.Debug("ignoring non-string session timestamp", zap.Int("line", i+1), zap.String("timestamp", ts.Raw))
			}
		}

		acc := costAccumulator{costs: result.CostsByModel, log: log.With(zap.Int("line", i+1))}
		if err := acc.addMessage(rec.Get("message")); err != nil {
			log.Error("erroneous line", zap.Int("line", i+1), zap.String("text", line), zap.Error(err))
			return nil, &MalformedRecordError{Line: i + 1, Text: line, Err: err}
		}
	}

	return result, nil
}

// checkSyntax returns the decoder's syntax error for an invalid line
func checkSyntax(line string) error {
	if gjson.Valid(line) {
		return nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return err
	}
	return errors.New("invalid JSON")
}

func isString(r gjson.Result, want string) bool {
	return r.Type == gjson.String && r.Str == want
}

type costAccumulator struct {
	costs model.CostsByModel
	log   *zap.Logger
}

// addMessage adds the message's own cost, then the costs of any sub-agent
// messages it carries. A message that is not an object carries no cost.
func (a costAccumulator) addMessage(msg gjson.Result) error {
	if !msg.IsObject() {
		return nil
	}

	if cost := msg.Get("usage.cost"); cost.Exists() && cost.Type != gjson.Null {
		total, err := costTotal(cost)
		if err != nil {
			return err
		}
		a.costs.Add(a.modelKey(msg.Get("model")), total)
	}

	if !isString(msg.Get("toolName"), toolNameSubagent) {
		return nil
	}
	results := msg.Get("details.results")
	if !results.IsArray() {
		return nil
	}

	for _, res := range results.Array() {
		messages := res.Get("messages")
		if !messages.IsArray() {
			continue
		}
		for _, nested := range messages.Array() {
			if err := a.addMessage(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// modelKey maps a model field to its key. Anything but a string is
// treated as an absent model.
func (a costAccumulator) modelKey(m gjson.Result) model.ModelKey {
	switch m.Type {
	case gjson.String:
		return model.NamedModel(m.Str)
	case gjson.Null:
		return model.NoModel
	default:
		a.log.Warn("non-string model, counting cost as unknown model", zap.String("model", m.Raw))
		return model.NoModel
	}
}

// costTotal reads cost.total. A missing or null total counts as zero.
func costTotal(cost gjson.Result) (float64, error) {
	if !cost.IsObject() {
		return 0, fmt.Errorf("%w: usage.cost is %s", ErrUnreadableCost, cost.Raw)
	}
	total := cost.Get("total")
	switch total.Type {
	case gjson.Number:
		return total.Num, nil
	case gjson.Null:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: usage.cost.total is %s", ErrUnreadableCost, total.Raw)
	}
}
