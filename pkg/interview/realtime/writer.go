package realtime

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

// outboundWriter is the only goroutine writing to the socket. Control messages
// (session.update, response.create, function results) go on priority and preempt
// queued microphone audio on normal.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	pingInterval time.Duration
	writeTimeout time.Duration
	priority     <-chan []byte
	normal       <-chan []byte
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

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriority(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		default:
		}

		select {
		case payload := <-w.priority:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
			continue
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case payload := <-w.priority:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		case payload := <-w.normal:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// flushPriority writes already-queued control frames on shutdown, bounded in count
// and time.
func (w *outboundWriter) flushPriority(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case payload := <-w.priority:
			_ = w.write(payload, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) write(payload []byte, writeTimeout time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}
