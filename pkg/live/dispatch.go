package live

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// dispatchToolCall executes every function call in one tool-call message and
// replies with a single batched tool response, one entry per call ID. A name
// with no registered tool gets a synthesized error result rather than going
// unanswered, so the model is never left waiting on a call ID.
func (s *Session) dispatchToolCall(tc *genai.LiveServerToolCall) {
	if len(tc.FunctionCalls) == 0 {
		s.logger.Warn("tool call message carried no function calls")
		return
	}

	responses := make([]*genai.FunctionResponse, 0, len(tc.FunctionCalls))
	for _, fc := range tc.FunctionCalls {
		if fc == nil {
			continue
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}

		tool, ok := s.registry.Lookup(fc.Name)
		if !ok {
			result := fmt.Sprintf("Error: unknown tool %q", fc.Name)
			s.logger.Warn("model requested unregistered tool", "name", fc.Name)
			responses = append(responses, &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: map[string]any{"result": result},
			})
			s.emit(ToolCallEvent{Name: fc.Name, Args: args, Result: result})
			continue
		}

		result := s.invokeTool(tool, args)
		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": result},
		})

		if prompt, ok := s.promptResult(fc.Name, result); ok {
			s.emit(PromptReadyEvent{Prompt: prompt})
		} else {
			s.emit(ToolCallEvent{Name: fc.Name, Args: args, Result: result})
		}
	}

	if err := s.conn.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
		s.logger.Error("send tool response", "error", err)
	}
}

// invokeTool runs one handler under the tool timeout. Handler errors and
// panics become textual error results; the model reacts conversationally
// instead of the session dying.
func (s *Session) invokeTool(tool Tool, args map[string]any) (result any) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("tool handler panicked", "panic", v)
			result = fmt.Sprintf("Error: %v", v)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ToolTimeout)
	defer cancel()

	res, err := tool.Handler(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return res
}

func (s *Session) promptResult(name string, result any) (string, bool) {
	if s.cfg.PromptToolName == "" || name != s.cfg.PromptToolName {
		return "", false
	}
	body, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	if success, _ := body["success"].(bool); !success {
		return "", false
	}
	prompt, ok := body["prompt"].(string)
	return prompt, ok
}
