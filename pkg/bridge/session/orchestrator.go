package session

import (
	"context"

	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
	"github.com/voxide-dev/voxide/pkg/live"
)

// TurnState tracks where the session is in the speak/respond cycle. It is
// advisory: the model owns turn-taking, the bridge only mirrors it for
// logging and per-turn bookkeeping.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnUserSpeaking
	TurnModelResponding
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnUserSpeaking:
		return "user_speaking"
	case TurnModelResponding:
		return "model_responding"
	default:
		return "unknown"
	}
}

// eventLoop consumes the model event stream until it closes. Each event is
// mirrored to the client; turn boundaries drive the context tracker and the
// per-turn accumulators.
func (s *Session) eventLoop(ctx context.Context, model ModelSession) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-model.Events():
			if !ok {
				s.logger.Info("model event stream ended")
				return nil
			}
			if err := s.handleEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev live.Event) error {
	switch e := ev.(type) {
	case live.UserTranscriptEvent:
		s.onUserTranscript(ctx, e.Text)
		return s.sendJSON(ctx, protocol.NewUserFrame(e.Text))

	case live.ModelTranscriptEvent:
		s.mu.Lock()
		s.turnModelText += e.Text
		s.setStateLocked(TurnModelResponding)
		s.mu.Unlock()
		return s.sendJSON(ctx, protocol.NewGeminiFrame(e.Text))

	case live.TurnCompleteEvent:
		s.finishTurn()
		return s.sendJSON(ctx, protocol.NewTurnCompleteFrame())

	case live.InterruptedEvent:
		// Turn audio was already discarded by the interrupt callback.
		return s.sendJSON(ctx, protocol.NewInterruptedFrame())

	case live.ToolCallEvent:
		s.logger.Info("tool call completed", "name", e.Name)
		return s.sendJSON(ctx, protocol.NewToolCallFrame(e.Name, e.Args, e.Result))

	case live.PromptReadyEvent:
		s.logger.Info("prompt ready", "len", len(e.Prompt))
		return s.sendJSON(ctx, protocol.NewPromptReadyFrame(e.Prompt))

	case live.ErrorEvent:
		s.logger.Error("model channel failed", "error", e.Err)
		_ = s.sendJSON(ctx, protocol.NewSystemErrorFrame("Gemini connection error: "+e.Err.Error()))
		_ = s.sendJSON(ctx, protocol.NewErrorFrame(e.Err.Error()))
		return e.Err

	default:
		s.logger.Debug("unhandled model event", "event", ev)
		return nil
	}
}

// onUserTranscript handles the start-of-speech edge: the first transcript
// delta of a turn triggers context injection before any further model input.
func (s *Session) onUserTranscript(ctx context.Context, text string) {
	firstDelta := !s.tracker.SpeechStarted()
	if firstDelta {
		s.tracker.OnUserSpeechStarted()
		s.tracker.InjectIfNeeded(s.textEmitter(ctx))
	}

	s.mu.Lock()
	s.turnUserText += text
	s.setStateLocked(TurnUserSpeaking)
	s.mu.Unlock()
}

// finishTurn closes out the per-turn state when the model signals turn
// completion.
func (s *Session) finishTurn() {
	s.tracker.ResetForTurnEnd()

	s.mu.Lock()
	userLen, modelLen, audioBytes := len(s.turnUserText), len(s.turnModelText), s.turnAudioBytes
	s.turnUserText = ""
	s.turnModelText = ""
	s.turnAudioBytes = 0
	s.setStateLocked(TurnIdle)
	s.mu.Unlock()

	s.logger.Info("turn complete",
		"user_transcript_len", userLen,
		"model_transcript_len", modelLen,
		"model_audio_bytes", audioBytes,
	)
}

func (s *Session) setStateLocked(next TurnState) {
	if s.state == next {
		return
	}
	s.logger.Debug("turn state", "from", s.state.String(), "to", next.String())
	s.state = next
}

// State reports the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
