//go:build !tinygo

package portal

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 10
)

type logEnvelope struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

// The portal is only reachable on the device access point.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// logStream sends the buffered lines, then every new line as it is logged.
func (h *Handler) logStream(c *gin.Context) {
	if h.opts.Ring == nil {
		c.String(http.StatusNotFound, "Not found")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.opts.Log != nil {
			h.opts.Log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Subscribe first: a line may repeat, none is lost.
	lines, cancel := h.opts.Ring.Subscribe()
	defer cancel()
	for _, l := range h.opts.Ring.Snapshot() {
		if err := send(conn, l); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case l, ok := <-lines:
			if !ok {
				return
			}
			if err := send(conn, l); err != nil {
				if h.opts.Log != nil {
					h.opts.Log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

func send(conn *websocket.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(logEnvelope{Type: "log", Line: line})
}
