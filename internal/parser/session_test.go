package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/internal/model"
	"go.uber.org/zap"
)

const epsilon = 1e-9

func lines(records ...string) string {
	return strings.Join(records, "\n")
}

func TestProcessLinesAccumulatesByModel(t *testing.T) {
	content := lines(
		`{"message":{"model":"modelA","usage":{"cost":{"total":1.5}}}}`,
		`{"message":{"model":"modelB","usage":{"cost":{"total":2.25}}}}`,
		`{"message":{"model":"modelA","usage":{"cost":{"total":0.75}}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.Len(t, res.CostsByModel, 2)
	assert.InDelta(t, 2.25, res.CostsByModel[model.NamedModel("modelA")], epsilon)
	assert.InDelta(t, 2.25, res.CostsByModel[model.NamedModel("modelB")], epsilon)
	assert.InDelta(t, 4.5, res.Total(), epsilon)
}

func TestProcessLinesSubagentCosts(t *testing.T) {
	content := lines(
		`{"message":{"model":"modelC","usage":{"cost":{"total":1}}}}`,
		`{"message":{"role":"toolResult","toolName":"subagent","details":{"results":[`+
			`{"messages":[`+
			`{"model":"modelC","usage":{"cost":{"total":0.10}}},`+
			`{"model":"modelC","usage":{"cost":{"total":0.20}}}]}]}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.InDelta(t, 1.30, res.CostsByModel[model.NamedModel("modelC")], epsilon)
}

func TestProcessLinesSubagentAlongsideOwnCost(t *testing.T) {
	content := `{"message":{"model":"outer","usage":{"cost":{"total":0.5}},"toolName":"subagent",` +
		`"details":{"results":[{"messages":[{"model":"inner","usage":{"cost":{"total":0.25}}}]},` +
		`{"summary":"no messages"},` +
		`{"messages":[{"model":"inner","usage":{"cost":{"total":0.25}}},{"model":"inner"}]}]}}}`

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.CostsByModel[model.NamedModel("outer")], epsilon)
	assert.InDelta(t, 0.5, res.CostsByModel[model.NamedModel("inner")], epsilon)
}

func TestProcessLinesIgnoresResultsOfOtherTools(t *testing.T) {
	content := `{"message":{"toolName":"bash","details":{"results":[{"messages":[{"model":"x","usage":{"cost":{"total":9}}}]}]}}}`

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.Empty(t, res.CostsByModel)
}

func TestProcessLinesNestedSubagents(t *testing.T) {
	content := `{"message":{"toolName":"subagent","details":{"results":[{"messages":[` +
		`{"toolName":"subagent","details":{"results":[{"messages":[{"model":"deep","usage":{"cost":{"total":0.4}}}]}]}}]}]}}}`

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.InDelta(t, 0.4, res.CostsByModel[model.NamedModel("deep")], epsilon)
}

func TestProcessLinesZeroCostCreatesEntry(t *testing.T) {
	res, err := ProcessLines(logger.NopContext(), `{"message":{"model":"free","usage":{"cost":{"total":0}}}}`)
	require.NoError(t, err)

	v, ok := res.CostsByModel[model.NamedModel("free")]
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestProcessLinesMissingModelIsItsOwnKey(t *testing.T) {
	content := lines(
		`{"message":{"usage":{"cost":{"total":1}}}}`,
		`{"message":{"model":"","usage":{"cost":{"total":2}}}}`,
		`{"message":{"usage":{"cost":{"total":3}}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.Len(t, res.CostsByModel, 2)
	assert.InDelta(t, 4, res.CostsByModel[model.NoModel], epsilon)
	assert.InDelta(t, 2, res.CostsByModel[model.NamedModel("")], epsilon)
}

func TestProcessLinesMissingFieldsMeanNoCost(t *testing.T) {
	content := lines(
		`{}`,
		`{"message":null}`,
		`{"message":{}}`,
		`{"message":{"model":"m"}}`,
		`{"message":{"model":"m","usage":{}}}`,
		`{"message":{"model":"m","usage":{"cost":null}}}`,
		`{"message":"plain text"}`,
		`{"message":{"toolName":"subagent"}}`,
		`{"message":{"toolName":"subagent","details":{"results":[]}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.Empty(t, res.CostsByModel)
	assert.False(t, res.HasSession())
}

func TestProcessLinesSessionStartLastWins(t *testing.T) {
	content := lines(
		`{"type":"session","timestamp":"2025-01-01T10:00:00.000Z"}`,
		`{"message":{"model":"m","usage":{"cost":{"total":1}}}}`,
		`{"type":"session","timestamp":"2025-01-02T11:00:00.000Z"}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.True(t, res.HasSession())
	assert.Equal(t, "2025-01-02T11:00:00.000Z", res.SessionStart)
	start, ok := res.StartTime()
	assert.True(t, ok)
	assert.Equal(t, 11, start.Hour())
}

func TestProcessLinesNoSessionMarker(t *testing.T) {
	res, err := ProcessLines(logger.NopContext(), `{"type":"message","timestamp":"2025-01-01T10:00:00Z","message":{"model":"m","usage":{"cost":{"total":1}}}}`)
	require.NoError(t, err)

	assert.False(t, res.HasSession())
	assert.Empty(t, res.SessionStart)
	assert.InDelta(t, 1, res.Total(), epsilon)
}

func TestProcessLinesSkipsBlankLines(t *testing.T) {
	content := "\n   \n" + `{"message":{"model":"m","usage":{"cost":{"total":1}}}}` + "\n\t\n"

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)
	assert.InDelta(t, 1, res.Total(), epsilon)
}

func TestProcessLinesMalformedRecord(t *testing.T) {
	ctx, logs := logger.TestContext()
	content := lines(
		`{"message":{"model":"m","usage":{"cost":{"total":1}}}}`,
		`{"message":}`,
		`{"message":{"model":"m","usage":{"cost":{"total":1}}}}`,
	)

	res, err := ProcessLines(ctx, content)
	assert.Nil(t, res)
	require.Error(t, err)

	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 2, malformed.Line)
	assert.Equal(t, `{"message":}`, malformed.Text)
	assert.Contains(t, err.Error(), "line 2")

	entries := logs.FilterMessage("erroneous line").All()
	require.Len(t, entries, 1)
	assert.Equal(t, `{"message":}`, entries[0].ContextMap()["text"])
}

func TestProcessLinesMistypedFieldIsNotFatal(t *testing.T) {
	content := lines(
		`{"type":"session","timestamp":12345}`,
		`{"message":{"model":42,"usage":{"cost":{"total":1}}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.False(t, res.HasSession())
	assert.InDelta(t, 1, res.Total(), epsilon)
}

func TestProcessContentRepairsConcatenatedRecords(t *testing.T) {
	content := `{"type":"session","timestamp":"2025-03-04T05:06:07Z"}` +
		`{"message":{"model":"a","usage":{"cost":{"total":0.5}},"content":"}{"}}` + "\n" +
		`{"message":{"model":"a","usage":{"cost":{"total":0.25}}}}{"message":{"model":"b","usage":{"cost":{"total":1}}}}`

	res, err := ProcessContent(logger.NopContext(), content)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-04T05:06:07Z", res.SessionStart)
	assert.InDelta(t, 0.75, res.CostsByModel[model.NamedModel("a")], epsilon)
	assert.InDelta(t, 1, res.CostsByModel[model.NamedModel("b")], epsilon)
}

func TestProcessContentMalformedAfterNormalization(t *testing.T) {
	_, err := ProcessContent(logger.NopContext(), `{"a":1}{"b":tru}`)

	var malformed *MalformedRecordError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 2, malformed.Line)
}

func TestProcessLinesKeysAreCaseSensitive(t *testing.T) {
	content := lines(
		`{"TYPE":"session","Timestamp":"2025-01-01T00:00:00Z"}`,
		`{"Type":"session","timestamp":"2025-01-01T00:00:00Z"}`,
		`{"Message":{"MODEL":"x","Usage":{"COST":{"Total":5}}}}`,
		`{"message":{"model":"x","Usage":{"cost":{"total":5}}}}`,
		`{"message":{"model":"x","usage":{"Cost":{"total":5}}}}`,
		`{"message":{"ToolName":"subagent","details":{"results":[{"messages":[{"model":"x","usage":{"cost":{"total":5}}}]}]}}}`,
		`{"message":{"toolName":"subagent","Details":{"results":[{"messages":[{"model":"x","usage":{"cost":{"total":5}}}]}]}}}`,
		`{"message":{"toolName":"SubAgent","details":{"results":[{"messages":[{"model":"x","usage":{"cost":{"total":5}}}]}]}}}`,
	)

	res, err := ProcessLines(logger.NopContext(), content)
	require.NoError(t, err)

	assert.False(t, res.HasSession())
	assert.Empty(t, res.CostsByModel)
}

func TestProcessLinesTotalKeyIsCaseSensitive(t *testing.T) {
	res, err := ProcessLines(logger.NopContext(), `{"message":{"model":"x","usage":{"cost":{"Total":5}}}}`)
	require.NoError(t, err)

	// The cost object is present, so the entry exists, but "Total" is not its total
	v, ok := res.CostsByModel[model.NamedModel("x")]
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestProcessLinesNonNumericTotalIsFatal(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"string total", `{"message":{"model":"y","usage":{"cost":{"total":"1.5"}}}}`},
		{"boolean total", `{"message":{"model":"y","usage":{"cost":{"total":true}}}}`},
		{"object total", `{"message":{"model":"y","usage":{"cost":{"total":{"usd":1}}}}}`},
		{"number cost", `{"message":{"model":"y","usage":{"cost":1.5}}}`},
		{"nested string total", `{"message":{"toolName":"subagent","details":{"results":[{"messages":[{"model":"y","usage":{"cost":{"total":"0.2"}}}]}]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, logs := logger.TestContext()
			content := lines(`{"message":{"model":"y","usage":{"cost":{"total":1}}}}`, tt.line)

			res, err := ProcessLines(ctx, content)
			assert.Nil(t, res)

			var malformed *MalformedRecordError
			require.ErrorAs(t, err, &malformed)
			assert.ErrorIs(t, err, ErrUnreadableCost)
			assert.Equal(t, 2, malformed.Line)
			assert.Equal(t, tt.line, malformed.Text)

			entries := logs.FilterMessage("erroneous line").All()
			require.Len(t, entries, 1)
			assert.Equal(t, int64(2), entries[0].ContextMap()["line"])
		})
	}
}

func TestProcessLinesNullTotalCountsAsZero(t *testing.T) {
	res, err := ProcessLines(logger.NopContext(), lines(
		`{"message":{"model":"m","usage":{"cost":{"total":null}}}}`,
		`{"message":{"model":"m","usage":{"cost":{"total":2}}}}`,
	))
	require.NoError(t, err)
	assert.InDelta(t, 2, res.CostsByModel[model.NamedModel("m")], epsilon)
}

func TestProcessLinesNonStringModelIsLogged(t *testing.T) {
	ctx, logs := logger.TestContext()

	res, err := ProcessLines(ctx, `{"message":{"model":42,"usage":{"cost":{"total":1}}}}`)
	require.NoError(t, err)

	assert.InDelta(t, 1, res.CostsByModel[model.NoModel], epsilon)
	entries := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].ContextMap()["model"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["line"])
}

func TestProcessLinesEmptyTimestampIsNoSession(t *testing.T) {
	res, err := ProcessLines(logger.NopContext(), `{"type":"session","timestamp":""}`)
	require.NoError(t, err)
	assert.False(t, res.HasSession(), "an empty timestamp is not a usable start")

	// Last marker wins even when it is empty
	res, err = ProcessLines(logger.NopContext(), lines(
		`{"type":"session","timestamp":"2025-01-01T10:00:00Z"}`,
		`{"type":"session","timestamp":""}`,
	))
	require.NoError(t, err)
	assert.False(t, res.HasSession())
}
