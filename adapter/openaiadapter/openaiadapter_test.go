package openaiadapter

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

type mockChatClient struct {
	captured openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (m *mockChatClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.captured = request
	return m.response, m.err
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
		},
	}
}

func TestNewRequiresChatClientAndModel(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Options{Model: "gpt-4o"})
	require.Error(t, err)

	_, err = New(&mockChatClient{}, Options{})
	require.Error(t, err)
}

func TestPlanParsesSubTasks(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: textResponse(`{"sub_tasks": [{"goal": "draft", "task_type": "WRITE", "node_type": "EXECUTE", "depends_on_indices": []}, {"goal": "send", "task_type": "WRITE", "node_type": "EXECUTE", "depends_on_indices": [0]}]}`)}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	result, err := c.Plan(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "publish the newsletter"})
	require.NoError(t, err)
	require.Len(t, result.SubTasks, 2)
	assert.Equal(t, "draft", result.SubTasks[0].Goal)
	assert.Equal(t, graph.TaskWrite, result.SubTasks[0].TaskType)
	assert.Equal(t, []int{0}, result.SubTasks[1].DependsOnIndices)
	assert.Equal(t, "gpt-4o", mock.captured.Model)
}

func TestPlanReturnsErrorWhenNoJSONObjectPresent(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: textResponse("sorry, I cannot help with that")}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Plan(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "anything"})
	require.Error(t, err)
}

func TestAtomizeParsesResult(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: textResponse(`{"is_atomic": true, "refined_goal": "send the email"}`)}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	result, err := c.Atomize(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "send the email"})
	require.NoError(t, err)
	assert.True(t, result.IsAtomic)
	assert.Equal(t, "send the email", result.RefinedGoal)
}

func TestExecuteParsesResult(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: textResponse(`{"result": "draft text", "output_summary": "wrote a draft"}`)}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "draft content"})
	require.NoError(t, err)
	assert.Equal(t, "draft text", result.Result)
	assert.Equal(t, "wrote a draft", result.OutputSummary)
}

func TestAggregateParsesReplanFields(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: textResponse(`{"result": "combined", "output_summary": "merged children", "needs_replan": true, "replan_reason": "missing coverage"}`)}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	result, err := c.Aggregate(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "synthesize"})
	require.NoError(t, err)
	assert.Equal(t, "combined", result.Result)
	assert.True(t, result.NeedsReplan)
	assert.Equal(t, "missing coverage", result.ReplanReason)
}

func TestCompleteReturnsErrorOnEmptyChoices(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{response: openai.ChatCompletionResponse{}}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "anything"})
	require.Error(t, err)
}

func TestCompleteWrapsTransportError(t *testing.T) {
	t.Parallel()
	mock := &mockChatClient{err: errors.New("rate limited")}
	c, err := New(mock, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
