package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"
)

// ModelConn is the bidirectional channel to the model endpoint. It is
// satisfied by *genai.Session; tests substitute a fake.
type ModelConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Sink receives model output that bypasses the event stream: synthesized
// audio and the interruption signal. Implementations must not block for
// long; they run on the receive loop.
type Sink interface {
	OnAudio(data []byte)
	OnInterrupt()
}

// Queues are the three input lanes the sender loops drain. Each lane feeds a
// structurally distinct message type on the wire, so no cross-lane ordering
// is needed.
type Queues struct {
	Audio <-chan []byte
	Video <-chan []byte
	Text  <-chan string
}

type SessionConfig struct {
	// InputSampleRate tags outbound PCM chunks.
	InputSampleRate int

	// ToolTimeout bounds each tool handler invocation.
	ToolTimeout time.Duration

	// PromptToolName designates the tool whose successful result is emitted
	// as PromptReadyEvent instead of a generic ToolCallEvent.
	PromptToolName string

	EventBuffer int
	Logger      *slog.Logger
}

// Session multiplexes the three input lanes onto one model connection and
// demultiplexes the response stream into typed events. Four loops run for
// the session's lifetime: audio sender, video sender, text sender, receive.
//
// A failure inside any loop terminates that loop only; the receive loop
// additionally emits an ErrorEvent before ending the stream. Only Close
// tears down all four.
type Session struct {
	conn     ModelConn
	queues   Queues
	registry *Registry
	sink     Sink
	cfg      SessionConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events chan Event

	closeOnce sync.Once
}

func NewSession(conn ModelConn, queues Queues, registry *Registry, sink Sink, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:     conn,
		queues:   queues,
		registry: registry,
		sink:     sink,
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, cfg.EventBuffer),
	}
}

// Start launches the four session loops.
func (s *Session) Start() {
	s.wg.Add(4)
	go s.sendAudioLoop()
	go s.sendVideoLoop()
	go s.sendTextLoop()
	go s.receiveLoop()
}

// Events yields the normalized event stream. The channel is closed when the
// receive loop ends, after any terminal ErrorEvent; a closed channel is the
// end-of-stream sentinel.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Close cancels all four loops and closes the model connection. Safe to call
// more than once; never returns an in-loop error.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("model connection close", "error", err)
		}
	})
	s.wg.Wait()
}

func (s *Session) sendAudioLoop() {
	defer s.wg.Done()
	mimeType := fmt.Sprintf("audio/pcm;rate=%d", s.cfg.InputSampleRate)
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk, ok := <-s.queues.Audio:
			if !ok {
				return
			}
			err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{Data: chunk, MIMEType: mimeType},
			})
			if err != nil {
				s.logger.Error("send audio to model", "error", err)
				return
			}
		}
	}
}

func (s *Session) sendVideoLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-s.queues.Video:
			if !ok {
				return
			}
			err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
				Video: &genai.Blob{Data: frame, MIMEType: "image/jpeg"},
			})
			if err != nil {
				s.logger.Error("send video to model", "error", err)
				return
			}
		}
	}
}

func (s *Session) sendTextLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case text, ok := <-s.queues.Text:
			if !ok {
				return
			}
			err := s.conn.SendClientContent(genai.LiveClientContentInput{
				Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
				TurnComplete: genai.Ptr(true),
			})
			if err != nil {
				s.logger.Error("send text to model", "error", err)
				return
			}
		}
	}
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.events)

	s.logger.Info("model receive loop started")
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				// Session teardown; not an error worth surfacing.
				return
			}
			s.logger.Error("model receive loop ended", "error", err)
			s.emit(ErrorEvent{Err: err})
			return
		}
		s.handleServerMessage(msg)
	}
}

func (s *Session) handleServerMessage(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if content := msg.ServerContent; content != nil {
		if content.ModelTurn != nil {
			s.deliverAudio(content.ModelTurn)
		}
		if tr := content.InputTranscription; tr != nil && tr.Text != "" {
			s.emit(UserTranscriptEvent{Text: tr.Text})
		}
		if tr := content.OutputTranscription; tr != nil && tr.Text != "" {
			s.emit(ModelTranscriptEvent{Text: tr.Text})
		}
		if content.TurnComplete {
			s.emit(TurnCompleteEvent{})
		}
		if content.Interrupted {
			if s.sink != nil {
				s.sink.OnInterrupt()
			}
			s.emit(InterruptedEvent{})
		}
	}

	if msg.ToolCall != nil {
		s.dispatchToolCall(msg.ToolCall)
	}
}

func (s *Session) deliverAudio(turn *genai.Content) {
	if len(turn.Parts) == 0 {
		s.logger.Warn("model turn carried no parts")
		return
	}
	delivered := false
	for _, part := range turn.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		delivered = true
		if s.sink != nil {
			s.sink.OnAudio(part.InlineData.Data)
		}
	}
	if !delivered {
		s.logger.Warn("model turn carried no audio data", "parts", len(turn.Parts))
	}
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}
