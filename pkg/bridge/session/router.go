package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxide-dev/voxide/pkg/bridge/editorctx"
	"github.com/voxide-dev/voxide/pkg/bridge/protocol"
)

// readLoop routes client frames onto the model input lanes. Binary frames
// are microphone PCM; text frames are classified by the protocol decoder.
// The loop ends when the client disconnects or ctx is canceled.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := s.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("client disconnected")
				return nil
			}
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.enqueueAudio(ctx, data)
		case websocket.TextMessage:
			s.routeText(ctx, string(data))
		default:
			// Control frames are handled by the websocket library.
		}
	}
}

// enqueueAudio waits briefly for queue space, then drops the chunk. The
// model consumes audio in near real time; a backlog deep enough to fill the
// queue means dropping is better than lagging.
func (s *Session) enqueueAudio(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	select {
	case s.audioIn <- chunk:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.AudioEnqueueTimeout)
	defer timer.Stop()
	select {
	case s.audioIn <- chunk:
	case <-timer.C:
		s.mu.Lock()
		s.audioInDropped++
		n := s.audioInDropped
		s.mu.Unlock()
		if n == 1 || n%50 == 0 {
			s.logger.Warn("inbound audio queue full, dropping chunk", "dropped_total", n)
		}
	case <-ctx.Done():
	}
}

func (s *Session) routeText(ctx context.Context, raw string) {
	inbound, err := protocol.DecodeClientText(raw)
	if err != nil {
		s.logger.Warn("malformed client payload", "error", err)
		return
	}

	switch msg := inbound.(type) {
	case protocol.SelectionContext:
		s.tracker.Update(editorctx.Selection{Data: msg.Data})
	case protocol.TreeContext:
		s.tracker.Update(editorctx.Tree{Data: msg.Data})
	case protocol.LegacyEditorContext:
		s.tracker.Update(editorctx.Legacy{Data: msg.Data})
	case protocol.ImageFrame:
		select {
		case s.videoIn <- msg.Data:
		case <-ctx.Done():
		}
	case protocol.LiteralText:
		// Pending context rides the same FIFO lane, so injecting here
		// guarantees the model reads it before the typed message.
		s.tracker.InjectIfNeeded(s.textEmitter(ctx))
		select {
		case s.textIn <- msg.Text:
			s.logger.Info("client text queued", "len", len(msg.Text))
		case <-ctx.Done():
		}
	case protocol.Dropped:
		// Superseded payload shape; ignore.
	}
}

// textEmitter adapts the text lane to the tracker's injection callback.
func (s *Session) textEmitter(ctx context.Context) func(text string) error {
	return func(text string) error {
		select {
		case s.textIn <- text:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
