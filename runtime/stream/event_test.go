package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/task"
)

func TestEventJSON(t *testing.T) {
	parent := &task.Message{
		ID:              "m1",
		TaskID:          "t1",
		Content:         task.NewText(""),
		StreamingStatus: task.StatusInProgress,
		CreatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	events := []Event{
		Start{Parent: parent, Content: task.NewText("")},
		Delta{Parent: parent, Delta: task.ToolRequestDelta{ToolCallID: "c1", Name: "search", ArgumentsFragment: `{"q"`}},
		Full{Parent: parent, Content: task.ReasoningContent{Author: task.AuthorAgent, Summary: []string{"s"}}},
		Done{Parent: parent},
	}
	for _, ev := range events {
		t.Run(string(ev.Type()), func(t *testing.T) {
			data, err := MarshalEvent(ev)
			require.NoError(t, err)

			var head struct {
				Type string `json:"type"`
			}
			require.NoError(t, json.Unmarshal(data, &head))
			assert.Equal(t, string(ev.Type()), head.Type)

			got, err := UnmarshalEvent(data)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestEventJSONErrors(t *testing.T) {
	_, err := MarshalEvent(nil)
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	_, err = UnmarshalEvent([]byte(`{"type":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	_, err = UnmarshalEvent([]byte(`{"type":"delta","delta":{"type":"nope"}}`))
	assert.ErrorIs(t, err, task.ErrUnknownKind)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "task:abc", Topic("abc"))
}
