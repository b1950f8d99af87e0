package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

func TestValidatePassesWhenNoSchemaRegistered(t *testing.T) {
	t.Parallel()
	r := NewSchemaRegistry()
	err := r.Validate(graph.TaskThink, orccontext.AgentTaskInput{CurrentGoal: "anything"})
	assert.NoError(t, err)
}

func TestRegisterAndValidateRejectsMismatch(t *testing.T) {
	t.Parallel()
	r := NewSchemaRegistry()
	schema := []byte(`{
		"type": "object",
		"required": ["CurrentGoal"],
		"properties": {
			"CurrentGoal": {"type": "string", "minLength": 1}
		}
	}`)
	require.NoError(t, r.Register(graph.TaskThink, schema))

	err := r.Validate(graph.TaskThink, orccontext.AgentTaskInput{CurrentGoal: "do the thing"})
	assert.NoError(t, err)

	err = r.Validate(graph.TaskThink, orccontext.AgentTaskInput{CurrentGoal: ""})
	assert.Error(t, err)
}

func TestRegisterRejectsInvalidSchemaJSON(t *testing.T) {
	t.Parallel()
	r := NewSchemaRegistry()
	err := r.Register(graph.TaskThink, []byte(`not json`))
	assert.Error(t, err)
}
