package task

import (
	"encoding/json"
	"fmt"
)

type (
	// DeltaType is the discriminant of the Delta union.
	DeltaType string

	// Delta is one incremental fragment of a growing message. The interface is
	// sealed; use Accept with a DeltaVisitor to handle every variant.
	Delta interface {
		// DeltaType returns the union discriminant.
		DeltaType() DeltaType
		// Accept dispatches the delta to the visitor method for its variant.
		Accept(v DeltaVisitor) error
		delta()
	}

	// DeltaVisitor handles each Delta variant. Implementations stop compiling
	// when a new variant is introduced, which keeps consumers exhaustive.
	DeltaVisitor interface {
		VisitText(TextDelta) error
		VisitData(DataDelta) error
		VisitToolRequest(ToolRequestDelta) error
		VisitToolResponse(ToolResponseDelta) error
		VisitReasoningSummary(ReasoningSummaryDelta) error
		VisitReasoningContent(ReasoningContentDelta) error
	}

	// TextDelta appends text to a text message.
	TextDelta struct {
		Text string `json:"text_delta"`
	}

	// DataDelta carries a fragment of a JSON document. Fragments are
	// concatenated and parsed once when the message is finalized.
	DataDelta struct {
		Fragment string `json:"data_delta"`
	}

	// ToolRequestDelta carries a fragment of tool call arguments (JSON).
	ToolRequestDelta struct {
		ToolCallID        string `json:"tool_call_id"`
		Name              string `json:"name"`
		ArgumentsFragment string `json:"arguments_delta"`
	}

	// ToolResponseDelta carries a fragment of a tool result.
	ToolResponseDelta struct {
		ToolCallID      string `json:"tool_call_id"`
		Name            string `json:"name"`
		ContentFragment string `json:"tool_response_delta"`
	}

	// ReasoningSummaryDelta appends to the reasoning summary at Index.
	ReasoningSummaryDelta struct {
		Index int    `json:"summary_index"`
		Text  string `json:"summary_delta"`
	}

	// ReasoningContentDelta appends to the reasoning content at Index.
	ReasoningContentDelta struct {
		Index int    `json:"content_index"`
		Text  string `json:"content_delta"`
	}
)

const (
	DeltaTypeText             DeltaType = "text"
	DeltaTypeData             DeltaType = "data"
	DeltaTypeToolRequest      DeltaType = "tool_request"
	DeltaTypeToolResponse     DeltaType = "tool_response"
	DeltaTypeReasoningSummary DeltaType = "reasoning_summary"
	DeltaTypeReasoningContent DeltaType = "reasoning_content"
)

func (TextDelta) DeltaType() DeltaType             { return DeltaTypeText }
func (DataDelta) DeltaType() DeltaType             { return DeltaTypeData }
func (ToolRequestDelta) DeltaType() DeltaType      { return DeltaTypeToolRequest }
func (ToolResponseDelta) DeltaType() DeltaType     { return DeltaTypeToolResponse }
func (ReasoningSummaryDelta) DeltaType() DeltaType { return DeltaTypeReasoningSummary }
func (ReasoningContentDelta) DeltaType() DeltaType { return DeltaTypeReasoningContent }

func (d TextDelta) Accept(v DeltaVisitor) error             { return v.VisitText(d) }
func (d DataDelta) Accept(v DeltaVisitor) error             { return v.VisitData(d) }
func (d ToolRequestDelta) Accept(v DeltaVisitor) error      { return v.VisitToolRequest(d) }
func (d ToolResponseDelta) Accept(v DeltaVisitor) error     { return v.VisitToolResponse(d) }
func (d ReasoningSummaryDelta) Accept(v DeltaVisitor) error { return v.VisitReasoningSummary(d) }
func (d ReasoningContentDelta) Accept(v DeltaVisitor) error { return v.VisitReasoningContent(d) }

func (TextDelta) delta()             {}
func (DataDelta) delta()             {}
func (ToolRequestDelta) delta()      {}
func (ToolResponseDelta) delta()     {}
func (ReasoningSummaryDelta) delta() {}
func (ReasoningContentDelta) delta() {}

// ContentTypeOf returns the kind of content the delta contributes to. Both
// reasoning deltas contribute to reasoning content.
func ContentTypeOf(d Delta) ContentType {
	switch d.DeltaType() {
	case DeltaTypeText:
		return ContentTypeText
	case DeltaTypeData:
		return ContentTypeData
	case DeltaTypeToolRequest:
		return ContentTypeToolRequest
	case DeltaTypeToolResponse:
		return ContentTypeToolResponse
	case DeltaTypeReasoningSummary, DeltaTypeReasoningContent:
		return ContentTypeReasoning
	default:
		panic(fmt.Sprintf("task: unhandled delta type %q", d.DeltaType()))
	}
}

// MarshalDelta encodes d as a JSON object carrying its "type" discriminant.
func MarshalDelta(d Delta) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil delta", ErrUnknownKind)
	}
	return tagged(string(d.DeltaType()), d)
}

// UnmarshalDelta decodes a JSON object produced by MarshalDelta.
func UnmarshalDelta(data []byte) (Delta, error) {
	var head struct {
		Type DeltaType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case DeltaTypeText:
		return decodeDelta[TextDelta](data)
	case DeltaTypeData:
		return decodeDelta[DataDelta](data)
	case DeltaTypeToolRequest:
		return decodeDelta[ToolRequestDelta](data)
	case DeltaTypeToolResponse:
		return decodeDelta[ToolResponseDelta](data)
	case DeltaTypeReasoningSummary:
		return decodeDelta[ReasoningSummaryDelta](data)
	case DeltaTypeReasoningContent:
		return decodeDelta[ReasoningContentDelta](data)
	default:
		return nil, fmt.Errorf("%w: delta type %q", ErrUnknownKind, head.Type)
	}
}

func decodeDelta[T Delta](data []byte) (Delta, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
