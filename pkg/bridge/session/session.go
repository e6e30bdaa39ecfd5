// Package session runs one editor connection end to end: it routes inbound
// websocket frames onto the model's input lanes, tracks editor context, and
// turns the model's event stream back into client frames.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxide-dev/voxide/pkg/bridge/config"
	"github.com/voxide-dev/voxide/pkg/bridge/editorctx"
	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
	"github.com/voxide-dev/voxide/pkg/bridge/tools"
	"github.com/voxide-dev/voxide/pkg/live"
)

// wsConn is the subset of *websocket.Conn the session uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	wsWriter
}

// ModelSession is the live-session handle the orchestrator consumes.
// Satisfied by *live.Session.
type ModelSession interface {
	Events() <-chan live.Event
	Close()
}

// Dialer opens a model session for one client connection.
type Dialer interface {
	Connect(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error)
}

// DialerFunc adapts a connect function to the Dialer interface.
type DialerFunc func(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error)

func (f DialerFunc) Connect(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error) {
	return f(ctx, queues, registry, sink)
}

// Session owns the per-connection state: the three model input lanes, the
// context tracker, the outbound writer lanes, and the turn accumulators.
type Session struct {
	id      string
	cfg     config.Config
	logger  *slog.Logger
	ws      wsConn
	tracker *editorctx.Tracker

	audioIn chan []byte
	videoIn chan []byte
	textIn  chan string

	outJSON  chan []byte
	outAudio chan []byte

	mu             sync.Mutex
	turnAudioBytes int
	turnUserText   string
	turnModelText  string
	state          TurnState
	audioInDropped int
	audioOutDrops  int
}

func New(id string, ws wsConn, cfg config.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)
	return &Session{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		ws:       ws,
		tracker:  editorctx.NewTracker(logger),
		audioIn:  make(chan []byte, cfg.AudioQueueDepth),
		videoIn:  make(chan []byte, cfg.VideoQueueDepth),
		textIn:   make(chan string, cfg.TextQueueDepth),
		outJSON:  make(chan []byte, cfg.OutboundQueueSize),
		outAudio: make(chan []byte, cfg.OutboundQueueSize),
	}
}

func (s *Session) ID() string { return s.id }

// Run drives the session until the client disconnects, the model stream
// ends, or ctx is canceled. It always returns with the socket closed and all
// session goroutines stopped.
func (s *Session) Run(ctx context.Context, dial Dialer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	if s.cfg.ReadTimeout > 0 {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.ws.SetPongHandler(func(string) error {
			return s.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	queues := live.Queues{Audio: s.audioIn, Video: s.videoIn, Text: s.textIn}
	registry := tools.NewRegistry(s.tracker)

	model, err := dial.Connect(ctx, queues, registry, s)
	if err != nil {
		s.logger.Error("model connect failed", "error", err)
		// The writer is not running yet; write the failure frame directly.
		if payload, merr := json.Marshal(protocol.NewSystemErrorFrame("failed to connect to model")); merr == nil {
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = s.ws.WriteMessage(websocket.TextMessage, payload)
		}
		_ = s.ws.Close()
		return fmt.Errorf("connect model session: %w", err)
	}
	defer model.Close()

	writer := &outboundWriter{
		ws:           s.ws,
		ctx:          ctx,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
		json:         s.outJSON,
		audio:        s.outAudio,
	}
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run() }()

	readDone := make(chan error, 1)
	go func() { readDone <- s.readLoop(ctx) }()

	s.logger.Info("session started")
	runErr := s.eventLoop(ctx, model)

	cancel()
	model.Close()
	if err := <-readDone; err != nil {
		s.logger.Debug("client read loop ended", "error", err)
	}
	if err := <-writerDone; err != nil {
		s.logger.Debug("client writer ended", "error", err)
	}

	s.mu.Lock()
	inDropped, outDropped := s.audioInDropped, s.audioOutDrops
	s.mu.Unlock()
	s.logger.Info("session ended",
		"audio_in_dropped", inDropped,
		"audio_out_dropped", outDropped,
	)
	return runErr
}

// OnAudio forwards one synthesized audio chunk to the client. Backpressure
// drops the chunk: late audio is worse than missing audio.
func (s *Session) OnAudio(data []byte) {
	s.mu.Lock()
	s.turnAudioBytes += len(data)
	s.mu.Unlock()

	select {
	case s.outAudio <- data:
	default:
		s.mu.Lock()
		s.audioOutDrops++
		n := s.audioOutDrops
		s.mu.Unlock()
		if n == 1 || n%50 == 0 {
			s.logger.Warn("outbound audio queue full, dropping chunk", "dropped_total", n)
		}
	}
}

// OnInterrupt discards the audio accumulated for the current model turn.
// Transcript accumulators are left alone so the partial exchange stays
// visible to the client.
func (s *Session) OnInterrupt() {
	s.mu.Lock()
	discarded := s.turnAudioBytes
	s.turnAudioBytes = 0
	s.mu.Unlock()
	s.logger.Info("model interrupted, discarding turn audio", "bytes", discarded)
}

// Notify queues an advisory system_error frame without blocking; used by
// the server to warn clients before shutdown.
func (s *Session) Notify(message string) error {
	payload, err := json.Marshal(protocol.NewSystemErrorFrame(message))
	if err != nil {
		return err
	}
	select {
	case s.outJSON <- payload:
		return nil
	default:
		return fmt.Errorf("outbound queue full")
	}
}

// sendJSON queues an event frame for the client, blocking until there is
// queue space or the session is torn down.
func (s *Session) sendJSON(ctx context.Context, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode client frame: %w", err)
	}
	select {
	case s.outJSON <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
