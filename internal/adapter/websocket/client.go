package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 5 * time.Second
	sendBuffer    = 16
)

// clientWriter serializes writes to one websocket connection through a
// buffered channel so the dispatch path never blocks on a slow client.
type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// enqueue offers a frame without blocking. It reports false when the
// client's buffer is full.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case cw.sendCh <- msg:
		return true
	case <-cw.done:
		return false
	default:
		return false
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}
