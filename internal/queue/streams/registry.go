package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const taskSubmittedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "topic"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "topic": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

// SchemaRegistry holds compiled payload schemas keyed by "<event>@<version>".
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// DefaultRegistry returns a registry with every event this service emits.
func DefaultRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := reg.Register(EventTaskSubmitted, PayloadV1, []byte(taskSubmittedSchema)); err != nil {
		return nil, err
	}
	return reg, nil
}

func registryKey(eventType, version string) string {
	return eventType + "@" + version
}

func (r *SchemaRegistry) Register(eventType, version string, schema []byte) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version are required")
	}
	key := registryKey(eventType, version)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key+".json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema %s: %w", key, err)
	}
	compiled, err := compiler.Compile(key + ".json")
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", key, err)
	}
	r.mu.Lock()
	r.schemas[key] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks an envelope payload against its registered schema.
func (r *SchemaRegistry) Validate(env Envelope) error {
	key := registryKey(env.EventType, env.PayloadVersion)
	r.mu.RLock()
	schema, ok := r.schemas[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no schema registered for %s", ErrInvalidEnvelope, key)
	}
	var doc interface{}
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}
