// Package anthropicadapter wires github.com/anthropics/anthropic-sdk-go as
// a concrete Planner/Atomizer/Executor/Aggregator implementation. Each role
// issues a single Messages.New call with a role-specific prompt built from
// the resolved AgentTaskInput, and expects a JSON object back describing
// the structured result: a plain text-in/JSON-out shape rather than the
// full tool-calling surface the SDK also supports.
package anthropicadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter uses, satisfied by *sdk.MessageService and mockable in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter's model choice and token budget.
type Options struct {
	Model     string
	MaxTokens int
}

// Client implements adapter.Planner, adapter.Atomizer, adapter.Executor,
// and adapter.Aggregator on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds a Client from an Anthropic Messages client and Options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropicadapter: messages client is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("anthropicadapter: model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropicadapter: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Model:     sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropicadapter: messages.new: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func renderContext(input orccontext.AgentTaskInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall objective: %s\nCurrent goal: %s\n", input.OverallObjective, input.CurrentGoal)
	if len(input.RelevantContextItems) > 0 {
		sb.WriteString("Context from prior work:\n")
		for _, item := range input.RelevantContextItems {
			fmt.Fprintf(&sb, "- [%s] %s: %v\n", item.SourceTaskID, item.SourceTaskGoal, item.Content)
		}
	}
	return sb.String()
}

func extractJSON(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("anthropicadapter: no JSON object found in response")
	}
	return json.RawMessage(text[start : end+1]), nil
}

// Plan implements adapter.Planner.
func (c *Client) Plan(ctx context.Context, input orccontext.AgentTaskInput) (adapter.PlanResult, error) {
	system := `Decompose the current goal into a JSON object {"sub_tasks": [{"goal": string, "task_type": "WRITE"|"THINK"|"SEARCH"|"AGGREGATE"|"CODE_INTERPRET"|"IMAGE_GENERATION", "node_type": "PLAN"|"EXECUTE", "depends_on_indices": [int]}]}. Reply with only the JSON object.`
	text, err := c.complete(ctx, system, renderContext(input))
	if err != nil {
		return adapter.PlanResult{}, err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return adapter.PlanResult{}, err
	}
	var parsed struct {
		SubTasks []struct {
			Goal             string `json:"goal"`
			TaskType         string `json:"task_type"`
			NodeType         string `json:"node_type"`
			DependsOnIndices []int  `json:"depends_on_indices"`
		} `json:"sub_tasks"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.PlanResult{}, fmt.Errorf("anthropicadapter: decode plan: %w", err)
	}
	result := adapter.PlanResult{SubTasks: make([]adapter.PlannedSubTask, len(parsed.SubTasks))}
	for i, st := range parsed.SubTasks {
		result.SubTasks[i] = adapter.PlannedSubTask{
			Goal:             st.Goal,
			TaskType:         graph.TaskType(st.TaskType),
			NodeType:         graph.NodeType(st.NodeType),
			DependsOnIndices: st.DependsOnIndices,
		}
	}
	return result, nil
}

// Atomize implements adapter.Atomizer.
func (c *Client) Atomize(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AtomizeResult, error) {
	system := `Decide whether the current goal is small enough to execute directly without further decomposition. Reply with only a JSON object {"is_atomic": bool, "refined_goal": string}.`
	text, err := c.complete(ctx, system, renderContext(input))
	if err != nil {
		return adapter.AtomizeResult{}, err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return adapter.AtomizeResult{}, err
	}
	var parsed struct {
		IsAtomic    bool   `json:"is_atomic"`
		RefinedGoal string `json:"refined_goal"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.AtomizeResult{}, fmt.Errorf("anthropicadapter: decode atomize: %w", err)
	}
	return adapter.AtomizeResult{IsAtomic: parsed.IsAtomic, RefinedGoal: parsed.RefinedGoal}, nil
}

// Execute implements adapter.Executor.
func (c *Client) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	system := `Carry out the current goal using the provided context. Reply with only a JSON object {"result": string, "output_summary": string}.`
	text, err := c.complete(ctx, system, renderContext(input))
	if err != nil {
		return adapter.ExecuteResult{}, err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return adapter.ExecuteResult{}, err
	}
	var parsed struct {
		Result        string `json:"result"`
		OutputSummary string `json:"output_summary"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.ExecuteResult{}, fmt.Errorf("anthropicadapter: decode execute: %w", err)
	}
	return adapter.ExecuteResult{Result: parsed.Result, OutputSummary: parsed.OutputSummary}, nil
}

// Aggregate implements adapter.Aggregator.
func (c *Client) Aggregate(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AggregateResult, error) {
	system := `Synthesize the child results listed in the context into a single answer for the current goal. Reply with only a JSON object {"result": string, "output_summary": string, "needs_replan": bool, "replan_reason": string}.`
	text, err := c.complete(ctx, system, renderContext(input))
	if err != nil {
		return adapter.AggregateResult{}, err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return adapter.AggregateResult{}, err
	}
	var parsed struct {
		Result       string `json:"result"`
		OutputSummary string `json:"output_summary"`
		NeedsReplan  bool   `json:"needs_replan"`
		ReplanReason string `json:"replan_reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.AggregateResult{}, fmt.Errorf("anthropicadapter: decode aggregate: %w", err)
	}
	return adapter.AggregateResult{
		Result:        parsed.Result,
		OutputSummary: parsed.OutputSummary,
		NeedsReplan:   parsed.NeedsReplan,
		ReplanReason:  parsed.ReplanReason,
	}, nil
}

// ModifyPlan implements adapter.PlanModifier by re-running Plan with the
// modification instructions folded into the rendered context.
func (c *Client) ModifyPlan(ctx context.Context, input orccontext.AgentTaskInput, instructions string) (adapter.PlanResult, error) {
	input.RelevantContextItems = append(input.RelevantContextItems, orccontext.ContextItem{
		SourceTaskID:           "human_reviewer",
		SourceTaskGoal:         "plan modification request",
		ContentTypeDescription: orccontext.ContentSummary,
		Content:                instructions,
	})
	return c.Plan(ctx, input)
}
