// Package protocol defines the client-facing wire protocol of the bridge:
// the JSON payload shapes an editor client may send on text frames, and the
// JSON event frames the bridge sends back.
//
// Binary frames are not decoded here. Inbound binary is raw 16-bit
// little-endian PCM mono audio; outbound binary is model-synthesized audio
// forwarded unmodified.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is a decoded client text frame.
type Inbound interface {
	inboundType() string
}

// SelectionPosition is a zero-indexed editor position.
type SelectionPosition struct {
	Line      int `json:"line"`
	Character int `json:"character,omitempty"`
}

// SelectionRange is the selected span plus its text.
type SelectionRange struct {
	Start SelectionPosition `json:"start"`
	End   SelectionPosition `json:"end"`
	Text  string            `json:"text"`
}

// SelectionData is the payload of {"type":"context","subtype":"selection"}.
type SelectionData struct {
	FileName   string         `json:"fileName"`
	LanguageID string         `json:"languageId"`
	Selection  SelectionRange `json:"selection"`
}

type SelectionContext struct {
	Data SelectionData
}

func (SelectionContext) inboundType() string { return "context/selection" }

// TreeRoot is one workspace root with its serialized directory structure.
type TreeRoot struct {
	Name string `json:"name"`
	Tree string `json:"tree"`
}

// TreeData is the payload of {"type":"context","subtype":"tree"}.
type TreeData struct {
	Roots []TreeRoot `json:"roots"`
}

type TreeContext struct {
	Data TreeData
}

func (TreeContext) inboundType() string { return "context/tree" }

// LegacySnippet is the code window around the cursor in the legacy format.
type LegacySnippet struct {
	Text      string `json:"text"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// LegacyEditorData is the payload of the legacy {"type":"editor_context"}.
type LegacyEditorData struct {
	FileName   string             `json:"fileName"`
	LanguageID string             `json:"languageId"`
	Cursor     *SelectionPosition `json:"cursor,omitempty"`
	Selection  *SelectionRange    `json:"selection,omitempty"`
	Snippet    *LegacySnippet     `json:"snippet,omitempty"`
	GitDiff    string             `json:"gitDiff,omitempty"`
}

type LegacyEditorContext struct {
	Data LegacyEditorData
}

func (LegacyEditorContext) inboundType() string { return "editor_context" }

// ImageFrame carries one decoded image for the model's video lane.
type ImageFrame struct {
	Data []byte
}

func (ImageFrame) inboundType() string { return "image" }

// LiteralText is any text frame that is not a recognized structured payload.
// It is treated as user-typed input for the model.
type LiteralText struct {
	Text string
}

func (LiteralText) inboundType() string { return "text" }

// Dropped marks a recognized-but-superseded payload (bare type=context with
// an unknown subtype). The router discards these silently.
type Dropped struct{}

func (Dropped) inboundType() string { return "dropped" }

type envelope struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Data    json.RawMessage `json:"data"`
}

// DecodeClientText classifies one client text frame. Unparsable text, or
// parsable text with an unrecognized type, decodes to LiteralText. A non-nil
// error means a recognized payload type carried malformed data; the caller
// should drop the frame.
func DecodeClientText(raw string) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return LiteralText{Text: raw}, nil
	}

	switch env.Type {
	case "context":
		switch env.Subtype {
		case "selection":
			var data SelectionData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, fmt.Errorf("decode selection context: %w", err)
			}
			return SelectionContext{Data: data}, nil
		case "tree":
			var data TreeData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return nil, fmt.Errorf("decode tree context: %w", err)
			}
			return TreeContext{Data: data}, nil
		default:
			// Old editorMonitor-style context payloads. Superseded.
			return Dropped{}, nil
		}
	case "editor_context":
		var data LegacyEditorData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode editor context: %w", err)
		}
		return LegacyEditorContext{Data: data}, nil
	case "image":
		var b64 string
		if err := json.Unmarshal(env.Data, &b64); err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return nil, fmt.Errorf("decode image base64: %w", err)
		}
		return ImageFrame{Data: decoded}, nil
	default:
		return LiteralText{Text: raw}, nil
	}
}

// Outbound event frame types.
const (
	TypeUser         = "user"
	TypeGemini       = "gemini"
	TypeTurnComplete = "turn_complete"
	TypeInterrupted  = "interrupted"
	TypeToolCall     = "tool_call"
	TypePromptReady  = "prompt_ready"
	TypeError        = "error"
	TypeSystemError  = "system_error"
)

// UserFrame carries a user input-transcription delta.
type UserFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GeminiFrame carries a model output-transcription delta.
type GeminiFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type TurnCompleteFrame struct {
	Type string `json:"type"`
}

type InterruptedFrame struct {
	Type string `json:"type"`
}

// ToolCallFrame reports one completed tool invocation.
type ToolCallFrame struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// PromptReadyFrame carries a generated prompt ready to hand to the editor.
type PromptReadyFrame struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// ErrorFrame reports a model-channel error.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SystemErrorFrame reports a fatal bridge-side failure before teardown.
type SystemErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewUserFrame(text string) UserFrame     { return UserFrame{Type: TypeUser, Text: text} }
func NewGeminiFrame(text string) GeminiFrame { return GeminiFrame{Type: TypeGemini, Text: text} }
func NewTurnCompleteFrame() TurnCompleteFrame {
	return TurnCompleteFrame{Type: TypeTurnComplete}
}
func NewInterruptedFrame() InterruptedFrame { return InterruptedFrame{Type: TypeInterrupted} }
func NewToolCallFrame(name string, args map[string]any, result any) ToolCallFrame {
	return ToolCallFrame{Type: TypeToolCall, Name: name, Args: args, Result: result}
}
func NewPromptReadyFrame(prompt string) PromptReadyFrame {
	return PromptReadyFrame{Type: TypePromptReady, Prompt: prompt}
}
func NewErrorFrame(msg string) ErrorFrame { return ErrorFrame{Type: TypeError, Error: msg} }
func NewSystemErrorFrame(msg string) SystemErrorFrame {
	return SystemErrorFrame{Type: TypeSystemError, Message: msg}
}
