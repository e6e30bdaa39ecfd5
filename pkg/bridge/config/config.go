package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selects which Gemini endpoint family the bridge connects to.
type Backend string

const (
	BackendGeminiAPI Backend = "gemini"
	BackendVertexAI  Backend = "vertex"
)

type Config struct {
	Addr string

	// StaticDir is the directory served at / and /static. Empty disables
	// static serving (API-only deployment).
	StaticDir string

	// Model endpoint settings.
	Backend        Backend
	APIKey         string
	VertexProject  string
	VertexLocation string
	Model          string
	Voice          string

	// Client audio format. Binary inbound frames are 16-bit little-endian
	// PCM mono at this rate.
	InputSampleRate int

	// Queue depths for the three input lanes. Audio is high-frequency and
	// loss-tolerant; video and text are small and apply natural backpressure.
	AudioQueueDepth int
	VideoQueueDepth int
	TextQueueDepth  int

	// AudioEnqueueTimeout bounds how long the inbound router waits on a full
	// audio queue before dropping the chunk.
	AudioEnqueueTimeout time.Duration

	// Outbound client writer.
	OutboundQueueSize int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageBytes   int64

	ToolTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// CORS allowed origins. "*" allows any origin.
	CORSAllowedOrigins map[string]struct{}
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXIDE_ADDR", "localhost:8001"),
		StaticDir:           envOr("VOXIDE_STATIC_DIR", "frontend"),
		Backend:             Backend(envOr("VOXIDE_GEMINI_BACKEND", string(BackendGeminiAPI))),
		APIKey:              envOr("VOXIDE_GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		VertexProject:       os.Getenv("VOXIDE_VERTEX_PROJECT"),
		VertexLocation:      envOr("VOXIDE_VERTEX_LOCATION", "us-central1"),
		Model:               envOr("VOXIDE_GEMINI_MODEL", "gemini-live-2.5-flash-preview-native-audio-09-2025"),
		Voice:               envOr("VOXIDE_GEMINI_VOICE", "Puck"),
		InputSampleRate:     envIntOr("VOXIDE_INPUT_SAMPLE_RATE", 16000),
		AudioQueueDepth:     envIntOr("VOXIDE_AUDIO_QUEUE_DEPTH", 100),
		VideoQueueDepth:     envIntOr("VOXIDE_VIDEO_QUEUE_DEPTH", 10),
		TextQueueDepth:      envIntOr("VOXIDE_TEXT_QUEUE_DEPTH", 10),
		AudioEnqueueTimeout: envDurationOr("VOXIDE_AUDIO_ENQUEUE_TIMEOUT", 100*time.Millisecond),
		OutboundQueueSize:   envIntOr("VOXIDE_OUTBOUND_QUEUE_SIZE", 128),
		PingInterval:        envDurationOr("VOXIDE_WS_PING_INTERVAL", 20*time.Second),
		WriteTimeout:        envDurationOr("VOXIDE_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadTimeout:         envDurationOr("VOXIDE_WS_READ_TIMEOUT", 0),
		MaxMessageBytes:     envInt64Or("VOXIDE_WS_MAX_MESSAGE_BYTES", 8<<20), // 8 MiB
		ToolTimeout:         envDurationOr("VOXIDE_TOOL_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXIDE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		CORSAllowedOrigins:  make(map[string]struct{}),
	}

	for _, origin := range splitCSV(envOr("VOXIDE_CORS_ORIGINS", "*")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.Backend {
	case BackendGeminiAPI, BackendVertexAI:
	default:
		return Config{}, fmt.Errorf("VOXIDE_GEMINI_BACKEND must be one of gemini|vertex")
	}
	if cfg.Backend == BackendGeminiAPI && strings.TrimSpace(cfg.APIKey) == "" {
		return Config{}, fmt.Errorf("VOXIDE_GEMINI_API_KEY is required for the gemini backend")
	}
	if cfg.Backend == BackendVertexAI && strings.TrimSpace(cfg.VertexProject) == "" {
		return Config{}, fmt.Errorf("VOXIDE_VERTEX_PROJECT is required for the vertex backend")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("VOXIDE_GEMINI_MODEL must be non-empty")
	}
	if cfg.InputSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOXIDE_INPUT_SAMPLE_RATE must be > 0")
	}
	if cfg.AudioQueueDepth <= 0 || cfg.VideoQueueDepth <= 0 || cfg.TextQueueDepth <= 0 {
		return Config{}, fmt.Errorf("queue depths must be > 0")
	}
	if cfg.AudioEnqueueTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXIDE_AUDIO_ENQUEUE_TIMEOUT must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOXIDE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXIDE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXIDE_TOOL_TIMEOUT must be > 0")
	}

	return cfg, nil
}

// OriginAllowed reports whether the given Origin header value passes the CORS
// allowlist. An empty origin (non-browser client) is always allowed.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	if _, ok := c.CORSAllowedOrigins["*"]; ok {
		return true
	}
	_, ok := c.CORSAllowedOrigins[origin]
	return ok
}

func envOr(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return val
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return val
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
