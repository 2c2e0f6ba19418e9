package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/task"
)

// TestAssemblerTextReconstructionProperty verifies that text deltas finalize
// to the concatenation of their fragments, in order.
func TestAssemblerTextReconstructionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("finalize concatenates text deltas", prop.ForAll(
		func(parts []string) bool {
			if len(parts) == 0 {
				return true
			}
			a := NewAssembler()
			for _, p := range parts {
				if err := a.Add(task.TextDelta{Text: p}); err != nil {
					return false
				}
			}
			got, err := a.Finalize()
			if err != nil {
				return false
			}
			text, ok := got.(task.TextContent)
			return ok && text.Content == strings.Join(parts, "") && text.Author == task.AuthorAgent
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestAssemblerKindIsolationProperty verifies that a delta of a different kind
// is rejected and leaves the accumulated state untouched.
func TestAssemblerKindIsolationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("mismatched delta is rejected without side effects", prop.ForAll(
		func(text, fragment string) bool {
			a := NewAssembler()
			if err := a.Add(task.TextDelta{Text: text}); err != nil {
				return false
			}
			err := a.Add(task.ToolResponseDelta{ToolCallID: "c1", Name: "search", ContentFragment: fragment})
			if !errors.Is(err, ErrKindMismatch) {
				return false
			}
			got, ferr := a.Finalize()
			return ferr == nil &&
				a.Len() == 1 &&
				a.Kind() == task.ContentTypeText &&
				got.(task.TextContent).Content == text
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestAssemblerFinalize(t *testing.T) {
	cases := []struct {
		name   string
		deltas []task.Delta
		want   task.Content
	}{
		{
			name: "data",
			deltas: []task.Delta{
				task.DataDelta{Fragment: `{"city":`},
				task.DataDelta{Fragment: `"Paris"}`},
			},
			want: task.DataContent{Author: task.AuthorAgent, Data: map[string]any{"city": "Paris"}},
		},
		{
			name: "tool request keeps first identity",
			deltas: []task.Delta{
				task.ToolRequestDelta{ToolCallID: "call-1", Name: "search", ArgumentsFragment: `{"q":`},
				task.ToolRequestDelta{ToolCallID: "call-2", Name: "other", ArgumentsFragment: `"go"}`},
			},
			want: task.ToolRequestContent{
				Author:     task.AuthorAgent,
				ToolCallID: "call-1",
				Name:       "search",
				Arguments:  map[string]any{"q": "go"},
			},
		},
		{
			name: "tool response",
			deltas: []task.Delta{
				task.ToolResponseDelta{ToolCallID: "call-1", Name: "search", ContentFragment: "3 "},
				task.ToolResponseDelta{ToolCallID: "call-1", Name: "search", ContentFragment: "results"},
			},
			want: task.ToolResponseContent{
				Author:     task.AuthorAgent,
				ToolCallID: "call-1",
				Name:       "search",
				Content:    "3 results",
			},
		},
		{
			name: "reasoning groups by index and drops empty entries",
			deltas: []task.Delta{
				task.ReasoningSummaryDelta{Index: 2, Text: "second"},
				task.ReasoningSummaryDelta{Index: 0, Text: "fir"},
				task.ReasoningContentDelta{Index: 0, Text: "thinking"},
				task.ReasoningSummaryDelta{Index: 0, Text: "st"},
				task.ReasoningSummaryDelta{Index: 1, Text: ""},
			},
			want: task.ReasoningContent{
				Author:  task.AuthorAgent,
				Summary: []string{"first", "second"},
				Content: []string{"thinking"},
			},
		},
		{
			name: "empty reasoning falls back to empty text",
			deltas: []task.Delta{
				task.ReasoningSummaryDelta{Index: 0},
				task.ReasoningContentDelta{Index: 3},
			},
			want: task.TextContent{Author: task.AuthorAgent},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAssembler()
			for _, d := range tc.deltas {
				require.NoError(t, a.Add(d))
			}
			got, err := a.Finalize()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAssemblerErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewAssembler().Finalize()
		assert.ErrorIs(t, err, ErrEmptyAssembler)
	})

	t.Run("nil delta", func(t *testing.T) {
		assert.ErrorIs(t, NewAssembler().Add(nil), ErrKindMismatch)
	})

	t.Run("reasoning summary and content share a kind", func(t *testing.T) {
		a := NewAssembler()
		require.NoError(t, a.Add(task.ReasoningSummaryDelta{Text: "s"}))
		require.NoError(t, a.Add(task.ReasoningContentDelta{Text: "c"}))
		assert.Equal(t, task.ContentTypeReasoning, a.Kind())
	})

	t.Run("malformed data", func(t *testing.T) {
		a := NewAssembler()
		require.NoError(t, a.Add(task.DataDelta{Fragment: `{"a":`}))
		_, err := a.Finalize()
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("malformed tool arguments", func(t *testing.T) {
		a := NewAssembler()
		require.NoError(t, a.Add(task.ToolRequestDelta{ToolCallID: "c", Name: "n", ArgumentsFragment: "not json"}))
		_, err := a.Finalize()
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}
