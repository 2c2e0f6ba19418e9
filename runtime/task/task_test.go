package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageJSONKeepsContentVariant(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{
		ID:     "msg-1",
		TaskID: "task-1",
		Content: ToolRequestContent{
			Author:     AuthorAgent,
			ToolCallID: "call-1",
			Name:       "search",
			Arguments:  map[string]any{"q": "go"},
		},
		StreamingStatus: StatusInProgress,
		CreatedAt:       now,
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"tool_request"`)
	require.NotContains(t, string(raw), "updated_at")

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, msg, decoded)
}

func TestUnmarshalContentRejectsUnknownType(t *testing.T) {
	_, err := UnmarshalContent([]byte(`{"type":"video","author":"agent"}`))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestDeltaWireDiscriminants(t *testing.T) {
	cases := map[DeltaType]Delta{
		DeltaTypeText:             TextDelta{Text: "hi"},
		DeltaTypeData:             DataDelta{Fragment: `{"a":`},
		DeltaTypeToolRequest:      ToolRequestDelta{ToolCallID: "c", Name: "n", ArgumentsFragment: "{"},
		DeltaTypeToolResponse:     ToolResponseDelta{ToolCallID: "c", Name: "n", ContentFragment: "ok"},
		DeltaTypeReasoningSummary: ReasoningSummaryDelta{Index: 1, Text: "s"},
		DeltaTypeReasoningContent: ReasoningContentDelta{Index: 2, Text: "c"},
	}
	for typ, d := range cases {
		raw, err := MarshalDelta(d)
		require.NoError(t, err)
		var head struct {
			Type DeltaType `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &head))
		require.Equal(t, typ, head.Type)

		back, err := UnmarshalDelta(raw)
		require.NoError(t, err)
		require.Equal(t, d, back)
	}
}

func TestContentTypeOfGroupsReasoning(t *testing.T) {
	require.Equal(t, ContentTypeReasoning, ContentTypeOf(ReasoningSummaryDelta{}))
	require.Equal(t, ContentTypeReasoning, ContentTypeOf(ReasoningContentDelta{}))
	require.Equal(t, ContentTypeToolResponse, ContentTypeOf(ToolResponseDelta{}))
}

func TestCloneContentDoesNotShareMaps(t *testing.T) {
	orig := DataContent{Author: AuthorAgent, Data: map[string]any{"k": "v"}}
	cp := CloneContent(orig).(DataContent)
	cp.Data["k"] = "changed"
	require.Equal(t, "v", orig.Data["k"])
}

func TestBodyJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Body Body `json:"body"`
	}{Body{Value: ToolRequestContent{Author: AuthorAgent, ToolCallID: "c1", Name: "search"}}})
	require.NoError(t, err)

	var decoded struct {
		Body Body `json:"body"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	req, ok := decoded.Body.Value.(ToolRequestContent)
	require.True(t, ok)
	require.Equal(t, "c1", req.ToolCallID)

	raw, err = json.Marshal(Body{})
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))

	var empty Body
	require.NoError(t, json.Unmarshal([]byte("null"), &empty))
	require.Nil(t, empty.Value)
	require.ErrorIs(t, json.Unmarshal([]byte(`{"type":"video"}`), &empty), ErrUnknownKind)
}
