package anthropic

import (
	sdk "github.com/anthropics/anthropic-sdk-go"

	"goa.design/agentflow/runtime/task"
)

// deltaProcessor converts Anthropic streaming events into task deltas.
// Only text blocks are forwarded: requests carry no tools and thinking is
// not enabled.
type deltaProcessor struct {
	emit       func(task.Delta) error
	stopReason sdk.StopReason
}

func (p *deltaProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.stopReason = ""
	case sdk.ContentBlockDeltaEvent:
		if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
			return p.emit(task.TextDelta{Text: delta.Text})
		}
	case sdk.MessageDeltaEvent:
		p.stopReason = ev.Delta.StopReason
	}
	return nil
}
