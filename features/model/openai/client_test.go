package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
)

type stubChatClient struct {
	last   sdk.ChatCompletionNewParams
	chunks []string
	err    error
}

func (s *stubChatClient) NewStreaming(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	s.last = body
	events := make([]ssestream.Event, 0, len(s.chunks)+1)
	for _, c := range s.chunks {
		events = append(events, ssestream.Event{Data: []byte(c)})
	}
	events = append(events, ssestream.Event{Data: []byte("[DONE]")})
	return ssestream.NewStream[sdk.ChatCompletionChunk](&testDecoder{events: events, err: s.err}, nil)
}

type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func chunk(content string) string {
	return `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"role":"assistant","content":"` + content + `"},"finish_reason":null}]}`
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "gpt"})
	require.EqualError(t, err, "openai client is required")
	_, err = New(&stubChatClient{}, Options{})
	require.EqualError(t, err, "default model is required")
	_, err = NewFromAPIKey("", Options{DefaultModel: "gpt"})
	require.EqualError(t, err, "api key is required")
}

func TestStreamEmitsContent(t *testing.T) {
	stub := &stubChatClient{chunks: []string{
		chunk("Hel"),
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[]}`,
		chunk("lo"),
	}}
	cl, err := New(stub, Options{DefaultModel: "gpt", System: "be brief", MaxTokens: 32})
	require.NoError(t, err)

	var got []task.Delta
	err = cl.Stream(context.Background(), model.Request{Prompt: "hi"}, func(d task.Delta) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []task.Delta{task.TextDelta{Text: "Hel"}, task.TextDelta{Text: "lo"}}, got)
	assert.Equal(t, sdk.ChatModel("gpt"), stub.last.Model)
	assert.Len(t, stub.last.Messages, 2)
	assert.EqualValues(t, 32, stub.last.MaxCompletionTokens.Value)
}

func TestStreamWithoutSystemPrompt(t *testing.T) {
	stub := &stubChatClient{chunks: []string{chunk("x")}}
	cl, err := New(stub, Options{DefaultModel: "gpt"})
	require.NoError(t, err)
	require.NoError(t, cl.Stream(context.Background(), model.Request{Prompt: "hi", Model: "gpt-mini"}, func(task.Delta) error { return nil }))
	assert.Len(t, stub.last.Messages, 1)
	assert.Equal(t, sdk.ChatModel("gpt-mini"), stub.last.Model)
	assert.False(t, stub.last.MaxCompletionTokens.Valid())
}

func TestStreamErrors(t *testing.T) {
	cl, err := New(&stubChatClient{}, Options{DefaultModel: "gpt"})
	require.NoError(t, err)
	require.EqualError(t, cl.Stream(context.Background(), model.Request{}, nil), "openai: prompt is required")

	boom := errors.New("boom")
	cl, err = New(&stubChatClient{chunks: []string{chunk("a"), chunk("b")}}, Options{DefaultModel: "gpt"})
	require.NoError(t, err)
	require.ErrorIs(t, cl.Stream(context.Background(), model.Request{Prompt: "hi"}, func(task.Delta) error { return boom }), boom)

	apiErr := &sdk.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	cl, err = New(&stubChatClient{err: apiErr}, Options{DefaultModel: "gpt"})
	require.NoError(t, err)
	require.ErrorIs(t, cl.Stream(context.Background(), model.Request{Prompt: "hi"}, func(task.Delta) error { return nil }), model.ErrRateLimited)
}
