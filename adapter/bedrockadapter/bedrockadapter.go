// Package bedrockadapter wires github.com/aws/aws-sdk-go-v2/service/bedrockruntime
// as a third concrete Executor implementation, using the Bedrock Converse
// API and translating its request/response shape down to this domain's
// plain JSON-out contract.
package bedrockadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client this
// adapter uses, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements adapter.Executor on top of AWS Bedrock Converse.
type Client struct {
	runtime   RuntimeClient
	modelID   string
	maxTokens int32
}

// New builds a Client from a Bedrock runtime client and model id.
func New(runtime RuntimeClient, modelID string, maxTokens int32) (*Client, error) {
	if runtime == nil {
		return nil, fmt.Errorf("bedrockadapter: runtime client is required")
	}
	if modelID == "" {
		return nil, fmt.Errorf("bedrockadapter: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, modelID: modelID, maxTokens: maxTokens}, nil
}

func renderContext(input orccontext.AgentTaskInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall objective: %s\nCurrent goal: %s\n", input.OverallObjective, input.CurrentGoal)
	for _, item := range input.RelevantContextItems {
		fmt.Fprintf(&sb, "- [%s] %s: %v\n", item.SourceTaskID, item.SourceTaskGoal, item.Content)
	}
	sb.WriteString(`Reply with only JSON {"result": string, "output_summary": string}.`)
	return sb.String()
}

// Execute implements adapter.Executor.
func (c *Client) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: renderContext(input)},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(c.maxTokens)},
	})
	if err != nil {
		return adapter.ExecuteResult{}, fmt.Errorf("bedrockadapter: converse: %w", err)
	}

	output, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return adapter.ExecuteResult{}, fmt.Errorf("bedrockadapter: unexpected converse output type")
	}
	var text strings.Builder
	for _, block := range output.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}

	raw := text.String()
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return adapter.ExecuteResult{}, fmt.Errorf("bedrockadapter: no JSON object found in response")
	}
	var parsed struct {
		Result        string `json:"result"`
		OutputSummary string `json:"output_summary"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return adapter.ExecuteResult{}, fmt.Errorf("bedrockadapter: decode execute: %w", err)
	}
	return adapter.ExecuteResult{Result: parsed.Result, OutputSummary: parsed.OutputSummary}, nil
}
