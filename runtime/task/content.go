package task

import (
	"encoding/json"
	"fmt"
)

type (
	// ContentType is the discriminant of the Content union.
	ContentType string

	// TextFormat tells clients how to render text content.
	TextFormat string

	// Content is the final (or placeholder) content of a message. The
	// interface is sealed: the variants are TextContent, DataContent,
	// ToolRequestContent, ToolResponseContent and ReasoningContent.
	Content interface {
		// ContentType returns the union discriminant.
		ContentType() ContentType
		// ContentAuthor returns who produced the content.
		ContentAuthor() Author
		content()
	}

	// TextContent is plain or formatted text.
	TextContent struct {
		Author  Author     `json:"author"`
		Content string     `json:"content"`
		Format  TextFormat `json:"format,omitempty"`
	}

	// DataContent is an arbitrary JSON object.
	DataContent struct {
		Author Author         `json:"author"`
		Data   map[string]any `json:"data"`
	}

	// ToolRequestContent records a tool invocation requested by the agent.
	ToolRequestContent struct {
		Author     Author         `json:"author"`
		ToolCallID string         `json:"tool_call_id"`
		Name       string         `json:"name"`
		Arguments  map[string]any `json:"arguments"`
	}

	// ToolResponseContent records the result of a tool invocation.
	ToolResponseContent struct {
		Author     Author `json:"author"`
		ToolCallID string `json:"tool_call_id"`
		Name       string `json:"name"`
		Content    string `json:"content"`
	}

	// ReasoningContent holds model reasoning split into summary and detail
	// sections.
	ReasoningContent struct {
		Author  Author   `json:"author"`
		Summary []string `json:"summary"`
		Content []string `json:"content,omitempty"`
	}
)

const (
	ContentTypeText         ContentType = "text"
	ContentTypeData         ContentType = "data"
	ContentTypeToolRequest  ContentType = "tool_request"
	ContentTypeToolResponse ContentType = "tool_response"
	ContentTypeReasoning    ContentType = "reasoning"
)

const (
	TextFormatPlain    TextFormat = "plain"
	TextFormatMarkdown TextFormat = "markdown"
	TextFormatCode     TextFormat = "code"
)

// NewText returns agent-authored text content.
func NewText(s string) TextContent {
	return TextContent{Author: AuthorAgent, Content: s}
}

func (TextContent) ContentType() ContentType         { return ContentTypeText }
func (DataContent) ContentType() ContentType         { return ContentTypeData }
func (ToolRequestContent) ContentType() ContentType  { return ContentTypeToolRequest }
func (ToolResponseContent) ContentType() ContentType { return ContentTypeToolResponse }
func (ReasoningContent) ContentType() ContentType    { return ContentTypeReasoning }

func (c TextContent) ContentAuthor() Author         { return c.Author }
func (c DataContent) ContentAuthor() Author         { return c.Author }
func (c ToolRequestContent) ContentAuthor() Author  { return c.Author }
func (c ToolResponseContent) ContentAuthor() Author { return c.Author }
func (c ReasoningContent) ContentAuthor() Author    { return c.Author }

func (TextContent) content()         {}
func (DataContent) content()         {}
func (ToolRequestContent) content()  {}
func (ToolResponseContent) content() {}
func (ReasoningContent) content()    {}

// MarshalContent encodes c as a JSON object carrying its "type" discriminant.
func MarshalContent(c Content) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil content", ErrUnknownKind)
	}
	return tagged(string(c.ContentType()), c)
}

// UnmarshalContent decodes a JSON object produced by MarshalContent.
func UnmarshalContent(data []byte) (Content, error) {
	var head struct {
		Type ContentType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case ContentTypeText:
		return decodeAs[TextContent](data)
	case ContentTypeData:
		return decodeAs[DataContent](data)
	case ContentTypeToolRequest:
		return decodeAs[ToolRequestContent](data)
	case ContentTypeToolResponse:
		return decodeAs[ToolResponseContent](data)
	case ContentTypeReasoning:
		return decodeAs[ReasoningContent](data)
	default:
		return nil, fmt.Errorf("%w: content type %q", ErrUnknownKind, head.Type)
	}
}

// tagged encodes v as a JSON object with a leading "type" key.
func tagged(kind string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(raw) > 2 {
		out = append(out, ',')
		out = append(out, raw[1:]...)
		return out, nil
	}
	return append(out, '}'), nil
}

func decodeAs[T Content](data []byte) (Content, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Body embeds a Content in JSON documents such as activity requests. A nil
// Value encodes as null.
type Body struct {
	Value Content
}

// MarshalJSON encodes the wrapped content with its discriminant.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.Value == nil {
		return []byte("null"), nil
	}
	return MarshalContent(b.Value)
}

// UnmarshalJSON decodes content produced by MarshalJSON.
func (b *Body) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.Value = nil
		return nil
	}
	c, err := UnmarshalContent(data)
	if err != nil {
		return err
	}
	b.Value = c
	return nil
}
