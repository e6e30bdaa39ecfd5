package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the single goroutine allowed to write to the client
// socket. JSON event frames take hard priority over binary audio: a dropped
// audio chunk is a brief glitch, a dropped event frame desynchronizes the
// client UI.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	pingInterval time.Duration
	writeTimeout time.Duration
	json         <-chan []byte
	audio        <-chan []byte
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var done <-chan struct{}
	if w.ctx != nil {
		done = w.ctx.Done()
	}

	for {
		select {
		case <-done:
			w.shutdown(writeTimeout)
			return nil
		default:
		}

		// Hard priority: drain queued event frames before touching audio.
		select {
		case frame, ok := <-w.json:
			if !ok {
				w.json = nil
				continue
			}
			if err := w.writeText(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if w.json == nil && w.audio == nil {
			return nil
		}

		select {
		case <-done:
			w.shutdown(writeTimeout)
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.json:
			if !ok {
				w.json = nil
				continue
			}
			if err := w.writeText(frame, writeTimeout); err != nil {
				return err
			}
		case chunk, ok := <-w.audio:
			if !ok {
				w.audio = nil
				continue
			}
			if err := w.writeBinary(chunk, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// shutdown flushes pending event frames, writes the close handshake and
// closes the socket. Run returns right after, so cancellation of an idle
// writer must not wait out a ping interval.
func (w *outboundWriter) shutdown(writeTimeout time.Duration) {
	w.flushJSONOnShutdown(writeTimeout)
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	_ = w.ws.Close()
}

// flushJSONOnShutdown drains a handful of queued event frames so terminal
// frames (error, turn_complete) reach the client before the close handshake.
func (w *outboundWriter) flushJSONOnShutdown(writeTimeout time.Duration) {
	if w.json == nil {
		return
	}

	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	maxFlushFrames := 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.json:
			if !ok {
				return
			}
			_ = w.writeText(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeText(frame []byte, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}

func (w *outboundWriter) writeBinary(chunk []byte, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.BinaryMessage, chunk)
}
