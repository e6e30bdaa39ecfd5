package live

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeConn struct {
	mu            sync.Mutex
	realtime      []genai.LiveRealtimeInput
	contents      []genai.LiveClientContentInput
	toolResponses []genai.LiveToolResponseInput
	failAudio     bool

	incoming chan *genai.LiveServerMessage
	recvErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan *genai.LiveServerMessage, 16)}
}

func (f *fakeConn) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAudio && input.Audio != nil {
		return errors.New("audio transmit failed")
	}
	f.realtime = append(f.realtime, input)
	return nil
}

func (f *fakeConn) SendClientContent(input genai.LiveClientContentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, input)
	return nil
}

func (f *fakeConn) SendToolResponse(input genai.LiveToolResponseInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResponses = append(f.toolResponses, input)
	return nil
}

func (f *fakeConn) Receive() (*genai.LiveServerMessage, error) {
	msg, ok := <-f.incoming
	if !ok {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	return msg, nil
}

func (f *fakeConn) Close() error {
	return nil
}

func (f *fakeConn) sentRealtime() []genai.LiveRealtimeInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]genai.LiveRealtimeInput(nil), f.realtime...)
}

func (f *fakeConn) sentContents() []genai.LiveClientContentInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]genai.LiveClientContentInput(nil), f.contents...)
}

func (f *fakeConn) sentToolResponses() []genai.LiveToolResponseInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]genai.LiveToolResponseInput(nil), f.toolResponses...)
}

type recordingSink struct {
	mu         sync.Mutex
	audio      [][]byte
	interrupts int
}

func (s *recordingSink) OnAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, data)
}

func (s *recordingSink) OnInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
}

func (s *recordingSink) snapshot() ([][]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...), s.interrupts
}

type lanes struct {
	audio chan []byte
	video chan []byte
	text  chan string
}

func newLanes() lanes {
	return lanes{
		audio: make(chan []byte, 8),
		video: make(chan []byte, 8),
		text:  make(chan string, 8),
	}
}

func (l lanes) queues() Queues {
	return Queues{Audio: l.audio, Video: l.video, Text: l.text}
}

func startSession(t *testing.T, conn *fakeConn, l lanes, reg *Registry, sink Sink) *Session {
	t.Helper()
	s := NewSession(conn, l.queues(), reg, sink, SessionConfig{
		InputSampleRate: 16000,
		PromptToolName:  "generate_prompt",
	})
	s.Start()
	t.Cleanup(func() {
		close(conn.incoming)
		s.Close()
	})
	return s
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

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestSendAudio_TaggedWithSampleRate(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	startSession(t, conn, l, NewRegistry(), nil)

	l.audio <- []byte{1, 2, 3, 4}

	waitFor(t, "audio transmit", func() bool { return len(conn.sentRealtime()) == 1 })
	sent := conn.sentRealtime()[0]
	if sent.Audio == nil {
		t.Fatalf("expected audio blob, got %+v", sent)
	}
	if sent.Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("mime type = %q", sent.Audio.MIMEType)
	}
}

func TestSendVideo_TaggedAsJPEG(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	startSession(t, conn, l, NewRegistry(), nil)

	l.video <- []byte{0xff, 0xd8}

	waitFor(t, "video transmit", func() bool { return len(conn.sentRealtime()) == 1 })
	sent := conn.sentRealtime()[0]
	if sent.Video == nil || sent.Video.MIMEType != "image/jpeg" {
		t.Fatalf("expected jpeg video blob, got %+v", sent)
	}
}

func TestSendText_EndsTurn(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	startSession(t, conn, l, NewRegistry(), nil)

	l.text <- "explain this"

	waitFor(t, "text transmit", func() bool { return len(conn.sentContents()) == 1 })
	sent := conn.sentContents()[0]
	if sent.TurnComplete == nil || !*sent.TurnComplete {
		t.Fatalf("text must be sent as a complete turn, got %+v", sent.TurnComplete)
	}
	if len(sent.Turns) != 1 {
		t.Fatalf("turns = %d", len(sent.Turns))
	}
}

func TestAudioSendFailure_TerminatesOnlyAudioLoop(t *testing.T) {
	conn := newFakeConn()
	conn.failAudio = true
	l := newLanes()
	startSession(t, conn, l, NewRegistry(), nil)

	l.audio <- []byte{1}
	// The audio loop exits on the failure; the text lane keeps working.
	l.text <- "still alive"

	waitFor(t, "text transmit after audio failure", func() bool {
		return len(conn.sentContents()) == 1
	})
}

func TestReceive_TranscriptsAndTurnComplete(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	s := startSession(t, conn, l, NewRegistry(), nil)

	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "explain "},
	}}
	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		OutputTranscription: &genai.Transcription{Text: "sure, "},
	}}
	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		TurnComplete: true,
	}}

	if ev, ok := nextEvent(t, s).(UserTranscriptEvent); !ok || ev.Text != "explain " {
		t.Fatalf("event 1 = %#v", ev)
	}
	if ev, ok := nextEvent(t, s).(ModelTranscriptEvent); !ok || ev.Text != "sure, " {
		t.Fatalf("event 2 = %#v", ev)
	}
	if _, ok := nextEvent(t, s).(TurnCompleteEvent); !ok {
		t.Fatalf("event 3 not TurnComplete")
	}
}

func TestReceive_AudioDeliveredToSink(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	sink := &recordingSink{}
	startSession(t, conn, l, NewRegistry(), sink)

	pcm := []byte{9, 9, 9}
	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: pcm, MIMEType: "audio/pcm"}},
		}},
	}}

	waitFor(t, "audio sink delivery", func() bool {
		audio, _ := sink.snapshot()
		return len(audio) == 1 && string(audio[0]) == string(pcm)
	})
}

func TestReceive_EmptyModelTurnIsRecoverable(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	s := startSession(t, conn, l, NewRegistry(), &recordingSink{})

	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{},
	}}
	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		TurnComplete: true,
	}}

	// The anomalous message is logged and skipped; the stream continues.
	if _, ok := nextEvent(t, s).(TurnCompleteEvent); !ok {
		t.Fatalf("session must keep processing after an empty model turn")
	}
}

func TestReceive_InterruptCallbackBeforeEvent(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	sink := &recordingSink{}
	s := startSession(t, conn, l, NewRegistry(), sink)

	conn.incoming <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		Interrupted: true,
	}}

	if _, ok := nextEvent(t, s).(InterruptedEvent); !ok {
		t.Fatalf("expected InterruptedEvent")
	}
	if _, interrupts := sink.snapshot(); interrupts != 1 {
		t.Fatalf("interrupt callback fired %d times, want 1", interrupts)
	}
}

func TestReceive_ErrorThenStreamCloses(t *testing.T) {
	conn := newFakeConn()
	conn.recvErr = errors.New("connection reset")
	l := newLanes()
	s := NewSession(conn, l.queues(), NewRegistry(), nil, SessionConfig{})
	s.Start()
	defer s.Close()

	close(conn.incoming)

	ev := nextEvent(t, s)
	errEv, ok := ev.(ErrorEvent)
	if !ok {
		t.Fatalf("event = %#v, want ErrorEvent", ev)
	}
	if !strings.Contains(errEv.Err.Error(), "connection reset") {
		t.Fatalf("error = %v", errEv.Err)
	}
	if _, open := <-s.Events(); open {
		t.Fatalf("event stream must close after the error sentinel")
	}
}

func TestClose_CancelsAllLoops(t *testing.T) {
	conn := newFakeConn()
	l := newLanes()
	s := NewSession(conn, l.queues(), NewRegistry(), nil, SessionConfig{})
	s.Start()

	done := make(chan struct{})
	go func() {
		close(conn.incoming)
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not finish")
	}
}
