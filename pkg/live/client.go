package live

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// systemInstruction primes the model for voice pair-programming and explains
// the bracketed context blocks the bridge injects.
const systemInstruction = `You are a helpful AI coding assistant integrated into VS Code. You MUST respond to every user message with a verbal audio response. Keep your responses concise and conversational. Always acknowledge what the user says and provide a helpful response.

CONTEXT TYPES YOU MAY RECEIVE:

1. [SELECTION CONTEXT] - User has explicitly selected code to discuss
   - This is the PRIMARY context - the user chose to share this specific code
   - Focus your response on the selected code
   - Be specific about what you see in the selection

2. [WORKSPACE TREE] - Directory structure of the project
   - Use this to understand the project layout
   - Helps you suggest file locations or understand imports

3. [EDITOR CONTEXT] - Legacy format with cursor position and code snippet
   - Shows the user's current file and surrounding code
   - If the user asks about "this function", refer to the context

HOW TO RESPOND:
- If you see SELECTION CONTEXT, the user wants to discuss that specific code
- If you don't have context and the user asks about code, say "I don't see any code selected. Could you select the code you want to discuss?"
- Be specific about line numbers and code elements when explaining
- Remember: You're pair-programming with the user. Help them understand, debug, and improve their code.`

// ClientConfig selects the Gemini endpoint and session behavior.
type ClientConfig struct {
	// Exactly one endpoint family: APIKey for the Gemini API, or
	// VertexProject/VertexLocation for Vertex AI (ambient credentials).
	APIKey         string
	VertexProject  string
	VertexLocation string

	Model string
	Voice string

	InputSampleRate int
	ToolTimeout     time.Duration
	PromptToolName  string
	Logger          *slog.Logger
}

// Client wraps a genai client configured for live sessions.
type Client struct {
	genai  *genai.Client
	cfg    ClientConfig
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cc := &genai.ClientConfig{}
	switch {
	case strings.TrimSpace(cfg.VertexProject) != "":
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.VertexProject
		cc.Location = cfg.VertexLocation
	case strings.TrimSpace(cfg.APIKey) != "":
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("either an api key or a vertex project is required")
	}

	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{genai: gc, cfg: cfg, logger: cfg.Logger}, nil
}

// Connect opens a live session and starts its four loops. Connection
// establishment is the only error that propagates to the caller; failures
// inside a running session surface as events.
func (c *Client) Connect(ctx context.Context, queues Queues, registry *Registry, sink Sink) (*Session, error) {
	conn, err := c.genai.Live.Connect(ctx, c.cfg.Model, c.connectConfig(registry))
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	session := NewSession(conn, queues, registry, sink, SessionConfig{
		InputSampleRate: c.cfg.InputSampleRate,
		ToolTimeout:     c.cfg.ToolTimeout,
		PromptToolName:  c.cfg.PromptToolName,
		Logger:          c.logger,
	})
	session.Start()
	return session, nil
}

func (c *Client) connectConfig(registry *Registry) *genai.LiveConnectConfig {
	voice := c.cfg.Voice
	if voice == "" {
		voice = "Puck"
	}
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		SystemInstruction:        genai.NewContentFromText(systemInstruction, genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		Tools:                    registry.Declarations(),
	}
}
