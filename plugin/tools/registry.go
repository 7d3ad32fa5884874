// Package tools holds the static set of capabilities the generation engine
// may invoke mid-response, and the named groups that bind subsets of them to
// system prompts. The registry is built once at startup; lookups are pure.
package tools

import (
	langtools "github.com/tmc/langchaingo/tools"

	"github.com/chainchat/chainchat/plugin/llm"
)

// Entry pairs an executable tool with the parameter schema advertised to the
// engine.
type Entry struct {
	Tool       langtools.Tool
	Parameters map[string]any
}

// Registry is a static name-to-tool mapping. Not safe for registration after
// startup; reads are lock-free.
type Registry struct {
	entries map[string]Entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds a tool under its own name. Parameters is the JSON Schema
// object for the tool's arguments; nil means "no parameters".
func (r *Registry) Register(t langtools.Tool, parameters map[string]any) {
	name := t.Name()
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = Entry{Tool: t, Parameters: parameters}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (langtools.Tool, bool) {
	e, ok := r.entries[name]
	return e.Tool, ok
}

// Definitions renders the engine-facing definitions for the named tools,
// silently skipping names the registry does not know.
func (r *Registry) Definitions(names []string) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, name := range names {
		e, ok := r.entries[name]
		if !ok {
			continue
		}
		params := e.Parameters
		if params == nil {
			params = ObjectSchema(map[string]any{}, nil)
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        name,
			Description: e.Tool.Description(),
			Parameters:  params,
		})
	}
	return defs
}

// Names lists every registered tool in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ObjectSchema builds the JSON Schema object the engine expects for tool
// parameters.
func ObjectSchema(properties map[string]any, required []string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// StringProperty is a shorthand for the most common parameter shape.
func StringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
