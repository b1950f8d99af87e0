// Package openaiadapter wires github.com/sashabaranov/go-openai as a
// second concrete Planner/Atomizer/Executor/Aggregator implementation,
// alongside adapter/anthropicadapter, so a Registry can resolve different
// backends per task type.
package openaiadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

// ChatClient captures the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements the adapter roles on top of an OpenAI-compatible chat
// completions endpoint.
type Client struct {
	chat        ChatClient
	model       string
	maxTokens   int
	temperature float32
}

// Options configures a Client.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// New wraps an existing ChatClient (a real *openai.Client or a fake) with
// the adapter roles.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, fmt.Errorf("openaiadapter: chat client is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("openaiadapter: model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	return &Client{chat: chat, model: opts.Model, maxTokens: maxTokens, temperature: temperature}, nil
}

// NewFromAPIKey builds a Client from an API key, model id, and base URL
// (empty uses the default OpenAI endpoint — pass an Azure/compatible
// endpoint for self-hosted deployments).
func NewFromAPIKey(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaiadapter: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), Options{Model: model})
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openaiadapter: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openaiadapter: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func renderContext(input orccontext.AgentTaskInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall objective: %s\nCurrent goal: %s\n", input.OverallObjective, input.CurrentGoal)
	for _, item := range input.RelevantContextItems {
		fmt.Fprintf(&sb, "- [%s] %s: %v\n", item.SourceTaskID, item.SourceTaskGoal, item.Content)
	}
	return sb.String()
}

func extractJSON(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("openaiadapter: no JSON object found in response")
	}
	return json.RawMessage(text[start : end+1]), nil
}

// Plan implements adapter.Planner.
func (c *Client) Plan(ctx context.Context, input orccontext.AgentTaskInput) (adapter.PlanResult, error) {
	text, err := c.complete(ctx,
		`Decompose the current goal into JSON {"sub_tasks": [{"goal": string, "task_type": string, "node_type": string, "depends_on_indices": [int]}]}. Reply with only JSON.`,
		renderContext(input))
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
		return adapter.PlanResult{}, fmt.Errorf("openaiadapter: decode plan: %w", err)
	}
	result := adapter.PlanResult{SubTasks: make([]adapter.PlannedSubTask, len(parsed.SubTasks))}
	for i, st := range parsed.SubTasks {
		result.SubTasks[i] = adapter.PlannedSubTask{
			Goal: st.Goal, TaskType: graph.TaskType(st.TaskType), NodeType: graph.NodeType(st.NodeType),
			DependsOnIndices: st.DependsOnIndices,
		}
	}
	return result, nil
}

// Atomize implements adapter.Atomizer.
func (c *Client) Atomize(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AtomizeResult, error) {
	text, err := c.complete(ctx,
		`Decide if the current goal is atomic. Reply with only JSON {"is_atomic": bool, "refined_goal": string}.`,
		renderContext(input))
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
		return adapter.AtomizeResult{}, fmt.Errorf("openaiadapter: decode atomize: %w", err)
	}
	return adapter.AtomizeResult{IsAtomic: parsed.IsAtomic, RefinedGoal: parsed.RefinedGoal}, nil
}

// Execute implements adapter.Executor.
func (c *Client) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	text, err := c.complete(ctx,
		`Carry out the current goal. Reply with only JSON {"result": string, "output_summary": string}.`,
		renderContext(input))
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
		return adapter.ExecuteResult{}, fmt.Errorf("openaiadapter: decode execute: %w", err)
	}
	return adapter.ExecuteResult{Result: parsed.Result, OutputSummary: parsed.OutputSummary}, nil
}

// Aggregate implements adapter.Aggregator.
func (c *Client) Aggregate(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AggregateResult, error) {
	text, err := c.complete(ctx,
		`Synthesize the listed child results for the current goal. Reply with only JSON {"result": string, "output_summary": string, "needs_replan": bool, "replan_reason": string}.`,
		renderContext(input))
	if err != nil {
		return adapter.AggregateResult{}, err
	}
	raw, err := extractJSON(text)
	if err != nil {
		return adapter.AggregateResult{}, err
	}
	var parsed struct {
		Result        string `json:"result"`
		OutputSummary string `json:"output_summary"`
		NeedsReplan   bool   `json:"needs_replan"`
		ReplanReason  string `json:"replan_reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.AggregateResult{}, fmt.Errorf("openaiadapter: decode aggregate: %w", err)
	}
	return adapter.AggregateResult{
		Result: parsed.Result, OutputSummary: parsed.OutputSummary,
		NeedsReplan: parsed.NeedsReplan, ReplanReason: parsed.ReplanReason,
	}, nil
}
