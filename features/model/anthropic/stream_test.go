package anthropic

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/task"
)

func decodeEvent(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestProcessorForwardsTextOnly(t *testing.T) {
	var got []task.Delta
	p := &deltaProcessor{emit: func(d task.Delta) error {
		got = append(got, d)
		return nil
	}}

	for _, raw := range []string{
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":1}"}}`,
		`{"type":"content_block_delta","index":2,"delta":{"type":"thinking_delta","thinking":"hmm"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"max_tokens"},"usage":{"output_tokens":1}}`,
	} {
		require.NoError(t, p.handle(decodeEvent(t, raw)))
	}
	assert.Equal(t, []task.Delta{task.TextDelta{Text: "hello"}}, got)
	assert.Equal(t, sdk.StopReasonMaxTokens, p.stopReason)

	require.NoError(t, p.handle(decodeEvent(t, `{"type":"message_start","message":{"id":"m2","type":"message","role":"assistant","content":[],"model":"claude","usage":{"input_tokens":1,"output_tokens":0}}}`)))
	assert.Empty(t, p.stopReason)
}
