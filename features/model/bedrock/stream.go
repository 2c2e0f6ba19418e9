package bedrock

import (
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/agentflow/runtime/task"
)

// deltaProcessor converts Bedrock streaming events into task deltas. Only
// text blocks are forwarded.
type deltaProcessor struct {
	emit       func(task.Delta) error
	stopReason brtypes.StopReason
	usage      *usage
}

type usage struct {
	in, out int
}

func (p *deltaProcessor) handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.stopReason = ""
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if delta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && delta.Value != "" {
			return p.emit(task.TextDelta{Text: delta.Value})
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = ev.Value.StopReason
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			p.usage = &usage{}
			if u.InputTokens != nil {
				p.usage.in = int(*u.InputTokens)
			}
			if u.OutputTokens != nil {
				p.usage.out = int(*u.OutputTokens)
			}
		}
	}
	return nil
}
