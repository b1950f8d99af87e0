package adapter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/taskorchestrator/graph"
)

// SchemaRegistry validates an Executor's input payload against a JSON
// Schema registered per task type, catching malformed adapter input before
// it reaches a real backend. Optional: a task type with no registered
// schema is never validated.
type SchemaRegistry struct {
	mu       sync.RWMutex
	schemas  map[graph.TaskType]*jsonschema.Schema
}

// NewSchemaRegistry constructs an empty SchemaRegistry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[graph.TaskType]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with taskType.
func (r *SchemaRegistry) Register(taskType graph.TaskType, schemaJSON []byte) error {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("adapter: parse schema for %s: %w", taskType, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := fmt.Sprintf("taskorchestrator://%s.json", taskType)
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("adapter: add schema resource for %s: %w", taskType, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("adapter: compile schema for %s: %w", taskType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[taskType] = schema
	return nil
}

// Validate checks payload against taskType's registered schema, if any. A
// task type with no registered schema always passes.
func (r *SchemaRegistry) Validate(taskType graph.TaskType, payload any) error {
	r.mu.RLock()
	schema, ok := r.schemas[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("adapter: encode payload for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("adapter: decode payload for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("adapter: payload failed schema for %s: %w", taskType, err)
	}
	return nil
}
