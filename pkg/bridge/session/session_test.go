package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxide-dev/voxide/pkg/bridge/config"
	"github.com/voxide-dev/voxide/pkg/live"
)

type wireRead struct {
	messageType int
	data        []byte
}

type fakeWS struct {
	fakeWriter
	reads     chan wireRead
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		reads:    make(chan wireRead, 16),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-f.reads:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return msg.messageType, msg.data, nil
	case <-f.closedCh:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeWS) SetReadLimit(int64)                {}
func (f *fakeWS) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeWS) SetPongHandler(func(string) error) {}

func (f *fakeWS) Close() error {
	f.closeOnce.Do(func() { close(f.closedCh) })
	return f.fakeWriter.Close()
}

func (f *fakeWS) sendText(t *testing.T, payload string) {
	t.Helper()
	select {
	case f.reads <- wireRead{messageType: websocket.TextMessage, data: []byte(payload)}:
	case <-time.After(time.Second):
		t.Fatalf("read script full")
	}
}

func (f *fakeWS) sendBinary(t *testing.T, data []byte) {
	t.Helper()
	select {
	case f.reads <- wireRead{messageType: websocket.BinaryMessage, data: data}:
	case <-time.After(time.Second):
		t.Fatalf("read script full")
	}
}

// frameOfType polls the recorded writes for a JSON frame with the given type.
func (f *fakeWS) frameOfType(t *testing.T, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range f.snapshot() {
			if msg.messageType != websocket.TextMessage || msg.control {
				continue
			}
			var decoded map[string]any
			if err := json.Unmarshal(msg.data, &decoded); err != nil {
				continue
			}
			if decoded["type"] == frameType {
				return decoded
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %q frame written; writes: %+v", frameType, f.snapshot())
	return nil
}

type fakeModel struct {
	events chan live.Event
	queues live.Queues
	sink   live.Sink
}

func (m *fakeModel) Events() <-chan live.Event { return m.events }
func (m *fakeModel) Close()                    {}

func testConfig() config.Config {
	return config.Config{
		AudioQueueDepth:     4,
		VideoQueueDepth:     2,
		TextQueueDepth:      4,
		AudioEnqueueTimeout: 10 * time.Millisecond,
		OutboundQueueSize:   32,
		PingInterval:        time.Hour,
		WriteTimeout:        time.Second,
		MaxMessageBytes:     1 << 20,
	}
}

type harness struct {
	ws      *fakeWS
	model   *fakeModel
	session *Session
	runDone chan error
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	ws := newFakeWS()
	model := &fakeModel{events: make(chan live.Event, 16)}
	s := New("sess_test", ws, testConfig(), slog.New(slog.DiscardHandler))

	dial := DialerFunc(func(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error) {
		model.queues = queues
		model.sink = sink
		return model, nil
	})

	h := &harness{ws: ws, model: model, session: s, runDone: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runDone <- s.Run(ctx, dial) }()
	t.Cleanup(func() {
		close(ws.reads)
		close(model.events)
		select {
		case <-h.runDone:
		case <-time.After(2 * time.Second):
			t.Errorf("session.Run did not finish")
		}
		cancel()
	})

	// Wait for the dialer to run so the model side is wired.
	deadline := time.Now().Add(time.Second)
	for model.sink == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if model.sink == nil {
		t.Fatalf("dialer never invoked")
	}
	return h
}

func (h *harness) nextModelText(t *testing.T) string {
	t.Helper()
	select {
	case text := <-h.model.queues.Text:
		return text
	case <-time.After(2 * time.Second):
		t.Fatalf("no text reached the model")
	}
	return ""
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func selectionPayload(file string, startLine, endLine int, text string) string {
	return fmt.Sprintf(`{"type":"context","subtype":"selection","data":{"fileName":%q,"languageId":"python","selection":{"start":{"line":%d},"end":{"line":%d},"text":%q}}}`,
		file, startLine, endLine, text)
}

func TestSession_SelectionInjectedBeforeTypedText(t *testing.T) {
	h := startHarness(t)

	h.ws.sendText(t, selectionPayload("foo.py", 10, 12, "def foo():\n    pass"))
	h.ws.sendText(t, "explain this")

	first := h.nextModelText(t)
	if !strings.Contains(first, "[SELECTION CONTEXT") || !strings.Contains(first, "lines 11-13") {
		t.Fatalf("first model text = %q, want injected selection block", first)
	}
	if !strings.Contains(first, "foo.py") {
		t.Fatalf("injected block missing file name: %q", first)
	}
	if second := h.nextModelText(t); second != "explain this" {
		t.Fatalf("second model text = %q", second)
	}
}

func TestSession_DuplicateSelectionNotReinjected(t *testing.T) {
	h := startHarness(t)

	payload := selectionPayload("foo.py", 1, 2, "x = 1")
	h.ws.sendText(t, payload)
	h.ws.sendText(t, "first question")

	if first := h.nextModelText(t); !strings.Contains(first, "[SELECTION CONTEXT") {
		t.Fatalf("first model text = %q", first)
	}
	h.nextModelText(t)

	// Same selection again in the next turn: only the typed text goes out.
	h.model.events <- live.TurnCompleteEvent{}
	h.ws.frameOfType(t, "turn_complete")
	h.ws.sendText(t, payload)
	h.ws.sendText(t, "second question")

	if text := h.nextModelText(t); text != "second question" {
		t.Fatalf("model text = %q, duplicate context must not be re-injected", text)
	}
}

func TestSession_SpeechStartTriggersInjection(t *testing.T) {
	h := startHarness(t)

	h.ws.sendText(t, selectionPayload("bar.go", 4, 6, "return nil"))
	waitFor(t, "selection tracked", func() bool {
		_, ok := h.session.tracker.CurrentSelection()
		return ok
	})
	h.model.events <- live.UserTranscriptEvent{Text: "what does "}

	if first := h.nextModelText(t); !strings.Contains(first, "[SELECTION CONTEXT") {
		t.Fatalf("speech start did not inject context: %q", first)
	}
	frame := h.ws.frameOfType(t, "user")
	if frame["text"] != "what does " {
		t.Fatalf("user frame = %#v", frame)
	}
}

func TestSession_TranscriptAndTurnFrames(t *testing.T) {
	h := startHarness(t)

	h.model.events <- live.UserTranscriptEvent{Text: "hello"}
	h.model.events <- live.ModelTranscriptEvent{Text: "hi there"}
	h.model.events <- live.TurnCompleteEvent{}

	if frame := h.ws.frameOfType(t, "user"); frame["text"] != "hello" {
		t.Fatalf("user frame = %#v", frame)
	}
	if frame := h.ws.frameOfType(t, "gemini"); frame["text"] != "hi there" {
		t.Fatalf("gemini frame = %#v", frame)
	}
	h.ws.frameOfType(t, "turn_complete")

	if state := h.session.State(); state != TurnIdle {
		t.Fatalf("state after turn complete = %s", state)
	}
}

func TestSession_BinaryAudioReachesModel(t *testing.T) {
	h := startHarness(t)

	h.ws.sendBinary(t, []byte{1, 2, 3})

	select {
	case chunk := <-h.model.queues.Audio:
		if len(chunk) != 3 {
			t.Fatalf("chunk = %v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("audio never reached the model lane")
	}
}

func TestSession_AudioDroppedWhenLaneFull(t *testing.T) {
	h := startHarness(t)

	// Nobody drains the audio lane; depth is 4, so later chunks must drop
	// after the enqueue timeout instead of wedging the read loop.
	for i := 0; i < 7; i++ {
		h.ws.sendBinary(t, []byte{byte(i)})
	}
	// A text frame after the burst proves the read loop is still alive.
	h.ws.sendText(t, "still here")

	if text := h.nextModelText(t); text != "still here" {
		t.Fatalf("model text = %q", text)
	}
	h.session.mu.Lock()
	dropped := h.session.audioInDropped
	h.session.mu.Unlock()
	if dropped == 0 {
		t.Fatalf("expected dropped audio chunks")
	}
}

func TestSession_ModelAudioForwardedAsBinary(t *testing.T) {
	h := startHarness(t)

	h.model.sink.OnAudio([]byte{9, 8, 7})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range h.ws.snapshot() {
			if msg.messageType == websocket.BinaryMessage {
				if len(msg.data) != 3 {
					t.Fatalf("binary frame = %v", msg.data)
				}
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("model audio never written to client")
}

func TestSession_InterruptDiscardsTurnAudioOnly(t *testing.T) {
	h := startHarness(t)

	h.model.sink.OnAudio([]byte{1, 2, 3, 4})
	h.model.events <- live.ModelTranscriptEvent{Text: "partial answer"}
	h.ws.frameOfType(t, "gemini")

	h.model.sink.OnInterrupt()
	h.model.events <- live.InterruptedEvent{}
	h.ws.frameOfType(t, "interrupted")

	h.session.mu.Lock()
	audioBytes := h.session.turnAudioBytes
	modelText := h.session.turnModelText
	h.session.mu.Unlock()
	if audioBytes != 0 {
		t.Fatalf("turn audio not discarded: %d bytes", audioBytes)
	}
	if modelText != "partial answer" {
		t.Fatalf("transcript accumulator must survive an interrupt, got %q", modelText)
	}
}

func TestSession_ToolAndPromptFrames(t *testing.T) {
	h := startHarness(t)

	h.model.events <- live.ToolCallEvent{
		Name:   "get_editor_context",
		Args:   map[string]any{"include_tree": false},
		Result: map[string]any{"success": true},
	}
	h.model.events <- live.PromptReadyEvent{Prompt: "# Role\nTest engineer"}

	if frame := h.ws.frameOfType(t, "tool_call"); frame["name"] != "get_editor_context" {
		t.Fatalf("tool_call frame = %#v", frame)
	}
	if frame := h.ws.frameOfType(t, "prompt_ready"); frame["prompt"] != "# Role\nTest engineer" {
		t.Fatalf("prompt_ready frame = %#v", frame)
	}
}

func TestSession_ModelErrorEndsRun(t *testing.T) {
	ws := newFakeWS()
	model := &fakeModel{events: make(chan live.Event, 16)}
	s := New("sess_err", ws, testConfig(), slog.New(slog.DiscardHandler))

	dial := DialerFunc(func(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error) {
		return model, nil
	})

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(context.Background(), dial) }()

	model.events <- live.ErrorEvent{Err: errors.New("quota exceeded")}
	close(model.events)

	select {
	case err := <-runDone:
		if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not finish after model error")
	}

	sysErr := ws.frameOfType(t, "system_error")
	if msg, _ := sysErr["message"].(string); !strings.Contains(msg, "quota exceeded") {
		t.Fatalf("system_error message = %v", sysErr["message"])
	}
	ws.frameOfType(t, "error")
}

func TestSession_DialFailureWritesSystemError(t *testing.T) {
	ws := newFakeWS()
	s := New("sess_dial", ws, testConfig(), slog.New(slog.DiscardHandler))

	dial := DialerFunc(func(ctx context.Context, queues live.Queues, registry *live.Registry, sink live.Sink) (ModelSession, error) {
		return nil, errors.New("api key rejected")
	})

	if err := s.Run(context.Background(), dial); err == nil {
		t.Fatalf("expected dial failure to propagate")
	}
	ws.frameOfType(t, "system_error")
	if !ws.isClosed() {
		t.Fatalf("socket left open after dial failure")
	}
}
