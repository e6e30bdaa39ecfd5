// Package tools holds the function tools exposed to the live model: prompt
// generation for the editor's chat assistant and editor context retrieval.
package tools

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxide-dev/voxide/pkg/live"
)

// PromptToolName is the tool whose successful result is routed to the client
// as a ready-to-paste prompt instead of a generic tool call notification.
const PromptToolName = "generate_prompt"

const snippetMaxChars = 1000

const generatePromptDescription = `Generate a GitHub Copilot Chat prompt that follows the RISEN framework.

Use this tool when the user needs coding help, e.g.:
- Implementing something new ("add error handling", "create a function", "add a feature")
- Debugging ("this is broken", "getting an error", unexpected behavior)
- Improving code (refactor, optimize, readability, architecture)
- Writing tests, docs, code review, or explaining code

OUTPUT REQUIREMENTS (RISEN):
Write the prompt in 5 labeled sections, in this exact order:

1) ROLE:
   - Specify what Copilot should act as (e.g., "Senior software engineer", "Security-focused reviewer", "Test engineer").
   - Choose the role that best matches the user's request.

2) INSTRUCTIONS:
   - State precisely what to produce (implementation, bug fix, refactor plan, tests, docs, etc.).
   - Include constraints: language/framework, style, performance, security, backward compatibility, and any project conventions mentioned.
   - If code changes are requested, ask for diffs/patch-style output or explicit file-by-file edits when appropriate.

3) STEPS:
   - Provide a short step-by-step approach Copilot should follow (analyze, propose options, implement, validate, etc.).
   - Include verification steps: how to run/build/test, edge cases, and checks.

4) END GOAL:
   - Define "done" in measurable terms (expected behavior, acceptance criteria, pass tests, no lint errors, etc.).

5) NARROWING (QUESTIONS / ASSUMPTIONS):
   - If critical info is missing, list the minimum necessary questions (max 3-5).
   - If you must proceed without answers, state explicit assumptions (clearly labeled).
   - Keep this section brief and only include what's needed to unblock the task.

CONTENT TO INCLUDE:
- Incorporate the provided task_description as the core request.
- Add relevant context (file name, repo structure, environment) if provided in context.
- If code_snippet is provided, include it under a clearly labeled "Relevant code" block.
- Keep the final prompt concise, actionable, and tailored to the user's exact goal.

DO NOT:
- Do not include tool/function metadata, internal reasoning, or extra commentary.
- Do not invent libraries, files, or requirements not stated (unless listed as assumptions in Narrowing).`

// GeneratePromptTool assembles a chat prompt from the model-supplied task
// description, optional context line, and optional code snippet. Snippets
// over 1000 characters are truncated before embedding.
func GeneratePromptTool() live.Tool {
	return live.Tool{
		Declaration: &genai.FunctionDeclaration{
			Name:        PromptToolName,
			Description: generatePromptDescription,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"task_description": {
						Type:        genai.TypeString,
						Description: "Clear description of what the user wants. Be specific and actionable. This is the main prompt text.",
					},
					"context": {
						Type:        genai.TypeString,
						Description: "Optional: file name, language, or relevant context",
					},
					"code_snippet": {
						Type:        genai.TypeString,
						Description: "Optional: relevant code to include (will be truncated if >1000 chars)",
					},
				},
				Required: []string{"task_description"},
			},
		},
		Handler: generatePrompt,
	}
}

func generatePrompt(_ context.Context, args map[string]any) (map[string]any, error) {
	task, _ := args["task_description"].(string)
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task_description is required")
	}

	lines := []string{task}

	if contextInfo, _ := args["context"].(string); contextInfo != "" {
		lines = append(lines, fmt.Sprintf("\nContext: %s", contextInfo))
	}

	if snippet, _ := args["code_snippet"].(string); snippet != "" {
		if len(snippet) > snippetMaxChars {
			snippet = snippet[:snippetMaxChars]
		}
		lines = append(lines, fmt.Sprintf("\n```\n%s\n```", snippet))
	}

	return map[string]any{
		"success": true,
		"prompt":  strings.Join(lines, "\n"),
	}, nil
}
