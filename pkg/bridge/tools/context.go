package tools

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
	"github.com/voxide-dev/voxide/pkg/live"
)

const treeStructureMaxChars = 2000

const getEditorContextDescription = `Get current editor context (selected code, workspace structure).

Call this when:
- User mentions "this code", "selected code", "current file"
- You need to see what the user is working on
- Before generating a prompt to get more context`

// ContextSource yields the editor state the context tool reads. Satisfied by
// *editorctx.Tracker.
type ContextSource interface {
	CurrentSelection() (protocol.SelectionData, bool)
	CurrentTree() (protocol.TreeData, bool)
}

// EditorContextTool lets the model inspect what the user is working on. The
// source is per-session state, not shared between connections.
func EditorContextTool(source ContextSource) live.Tool {
	return live.Tool{
		Declaration: &genai.FunctionDeclaration{
			Name:        "get_editor_context",
			Description: getEditorContextDescription,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"include_selection": {
						Type:        genai.TypeBoolean,
						Description: "Include selected code (default: true)",
					},
					"include_tree": {
						Type:        genai.TypeBoolean,
						Description: "Include workspace tree (default: true)",
					},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return getEditorContext(source, args), nil
		},
	}
}

func getEditorContext(source ContextSource, args map[string]any) map[string]any {
	result := map[string]any{
		"success":       true,
		"has_selection": false,
		"has_tree":      false,
		"selection":     nil,
		"tree":          nil,
		"message":       "",
	}

	var messages []string

	if boolArg(args, "include_selection", true) {
		if sel, ok := source.CurrentSelection(); ok && sel.Selection.Text != "" {
			result["has_selection"] = true
			result["selection"] = map[string]any{
				"fileName":   orUnknown(sel.FileName),
				"languageId": orUnknown(sel.LanguageID),
				"text":       sel.Selection.Text,
				"startLine":  sel.Selection.Start.Line + 1,
				"endLine":    sel.Selection.End.Line + 1,
			}
			messages = append(messages, "Selected code from "+orUnknown(sel.FileName))
		}
	}

	if boolArg(args, "include_tree", true) {
		if tree, ok := source.CurrentTree(); ok && len(tree.Roots) > 0 {
			roots := make([]map[string]any, 0, len(tree.Roots))
			for _, root := range tree.Roots {
				name := root.Name
				if name == "" {
					name = "workspace"
				}
				structure := root.Tree
				if len(structure) > treeStructureMaxChars {
					structure = structure[:treeStructureMaxChars]
				}
				roots = append(roots, map[string]any{
					"name":      name,
					"structure": structure,
				})
			}
			result["has_tree"] = true
			result["tree"] = roots
			messages = append(messages, "Workspace tree")
		}
	}

	if len(messages) > 0 {
		result["message"] = strings.Join(messages, ", ")
	} else {
		result["message"] = "No context available"
	}
	return result
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	v, ok := args[key].(bool)
	if !ok {
		return fallback
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// NewRegistry wires the session's tool set against its context source.
func NewRegistry(source ContextSource) *live.Registry {
	return live.NewRegistry(
		GeneratePromptTool(),
		EditorContextTool(source),
	)
}
