package stream

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"goa.design/agentflow/runtime/task"
)

// Assembler folds an ordered sequence of same-kind deltas into final message
// content. The first delta fixes the kind; later deltas of another kind are
// rejected without changing accumulated state.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	kind  task.ContentType
	count int

	buf        strings.Builder
	toolCallID string
	toolName   string

	summaries map[int]string
	contents  map[int]string
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Kind returns the content kind established by the first delta, or "" when
// nothing was added yet.
func (a *Assembler) Kind() task.ContentType {
	return a.kind
}

// Len returns the number of deltas accumulated so far.
func (a *Assembler) Len() int {
	return a.count
}

// Add accumulates d. It fails with ErrKindMismatch when d does not match the
// established kind.
func (a *Assembler) Add(d task.Delta) error {
	if d == nil {
		return fmt.Errorf("%w: nil delta", ErrKindMismatch)
	}
	kind := task.ContentTypeOf(d)
	if a.count > 0 && kind != a.kind {
		return fmt.Errorf("%w: expected %s delta, got %s", ErrKindMismatch, a.kind, d.DeltaType())
	}
	if err := d.Accept(accumulator{a}); err != nil {
		return err
	}
	a.kind = kind
	a.count++
	return nil
}

// Finalize reconstructs the message content from the accumulated deltas.
func (a *Assembler) Finalize() (task.Content, error) {
	if a.count == 0 {
		return nil, ErrEmptyAssembler
	}
	switch a.kind {
	case task.ContentTypeText:
		return task.TextContent{Author: task.AuthorAgent, Content: a.buf.String()}, nil
	case task.ContentTypeData:
		data, err := parseObject(a.buf.String())
		if err != nil {
			return nil, fmt.Errorf("%w: data is not valid JSON: %v", ErrMalformedPayload, err)
		}
		return task.DataContent{Author: task.AuthorAgent, Data: data}, nil
	case task.ContentTypeToolRequest:
		args, err := parseObject(a.buf.String())
		if err != nil {
			return nil, fmt.Errorf("%w: tool arguments are not valid JSON: %v", ErrMalformedPayload, err)
		}
		return task.ToolRequestContent{
			Author:     task.AuthorAgent,
			ToolCallID: a.toolCallID,
			Name:       a.toolName,
			Arguments:  args,
		}, nil
	case task.ContentTypeToolResponse:
		return task.ToolResponseContent{
			Author:     task.AuthorAgent,
			ToolCallID: a.toolCallID,
			Name:       a.toolName,
			Content:    a.buf.String(),
		}, nil
	case task.ContentTypeReasoning:
		summary := nonEmptyByIndex(a.summaries)
		content := nonEmptyByIndex(a.contents)
		if len(summary) == 0 && len(content) == 0 {
			return task.TextContent{Author: task.AuthorAgent}, nil
		}
		return task.ReasoningContent{Author: task.AuthorAgent, Summary: summary, Content: content}, nil
	default:
		panic(fmt.Sprintf("stream: unhandled content kind %q", a.kind))
	}
}

// accumulator applies deltas to the assembler buffers. It only runs after
// the kind check succeeded.
type accumulator struct {
	a *Assembler
}

func (acc accumulator) VisitText(d task.TextDelta) error {
	acc.a.buf.WriteString(d.Text)
	return nil
}

func (acc accumulator) VisitData(d task.DataDelta) error {
	acc.a.buf.WriteString(d.Fragment)
	return nil
}

func (acc accumulator) VisitToolRequest(d task.ToolRequestDelta) error {
	acc.captureCall(d.ToolCallID, d.Name)
	acc.a.buf.WriteString(d.ArgumentsFragment)
	return nil
}

func (acc accumulator) VisitToolResponse(d task.ToolResponseDelta) error {
	acc.captureCall(d.ToolCallID, d.Name)
	acc.a.buf.WriteString(d.ContentFragment)
	return nil
}

func (acc accumulator) VisitReasoningSummary(d task.ReasoningSummaryDelta) error {
	if acc.a.summaries == nil {
		acc.a.summaries = make(map[int]string)
	}
	acc.a.summaries[d.Index] += d.Text
	return nil
}

func (acc accumulator) VisitReasoningContent(d task.ReasoningContentDelta) error {
	if acc.a.contents == nil {
		acc.a.contents = make(map[int]string)
	}
	acc.a.contents[d.Index] += d.Text
	return nil
}

// captureCall records the tool call identity from the first delta only.
func (acc accumulator) captureCall(id, name string) {
	if acc.a.count == 0 {
		acc.a.toolCallID = id
		acc.a.toolName = name
	}
}

func parseObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonEmptyByIndex(parts map[int]string) []string {
	var out []string
	for _, idx := range slices.Sorted(maps.Keys(parts)) {
		if parts[idx] != "" {
			out = append(out, parts[idx])
		}
	}
	return out
}
