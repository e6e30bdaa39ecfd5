package live

import (
	"context"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// Handler executes one tool invocation. Args are the model-supplied keyword
// arguments; the returned map is sent back as the function response body.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a genai function declaration with its local implementation.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Handler     Handler
}

// Registry maps tool names to callables. Immutable after construction; the
// set of tools is fixed for a session's lifetime.
type Registry struct {
	byName map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if tool.Declaration == nil || strings.TrimSpace(tool.Declaration.Name) == "" {
			continue
		}
		r.byName[tool.Declaration.Name] = tool
	}
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	tool, ok := r.byName[strings.TrimSpace(name)]
	return tool, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the registered functions as a single genai tool, the
// shape the live connect config expects.
func (r *Registry) Declarations() []*genai.Tool {
	if r == nil || len(r.byName) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(r.byName))
	for _, name := range r.Names() {
		decls = append(decls, r.byName[name].Declaration)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
