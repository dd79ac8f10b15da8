package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/autostrat/internal/agent/core"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrInvalidArgs   = errors.New("invalid tool arguments")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Tool is a function the model may call.
type Tool interface {
	Spec() core.ToolSpec
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry validates arguments against each tool's schema before calling it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]entry)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	schema, err := compileSchema(spec.Name, spec.Parameters)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.tools[spec.Name] = entry{tool: t, schema: schema}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiler := jsonschema.NewCompiler()
	res := name + ".json"
	if err := compiler.AddResource(res, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(res)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Specs lists the registered tools sorted by name.
func (r *Registry) Specs() []core.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Execute(ctx context.Context, call core.ToolCall) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	args := call.Arguments
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var doc interface{}
	if err := json.Unmarshal(args, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return e.tool.Call(ctx, args)
}
