package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteTimeout bounds each outbound frame write so one stuck client
// cannot pin the handler goroutine.
const wsWriteTimeout = 10 * time.Second

// wsPingInterval keeps intermediaries from reaping an idle connection.
const wsPingInterval = 15 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origin, nil)
	},
}

// handleThreadEventsWS serves the same replay-then-live event stream as the
// SSE endpoint over a websocket, for front-ends that prefer WS framing. Each
// frame is one JSON-encoded event; the since_seq cursor contract is
// identical to /v1/threads/{id}/events.
func (s *Server) handleThreadEventsWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Logs.GetThread(id); err != nil {
		writeError(w, err)
		return
	}

	since := uint64(0)
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: since_seq must be a non-negative integer", errInvalidRequest))
			return
		}
		since = parsed
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so control messages (close, ping) are processed;
	// inbound data frames are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeEvent := func(ev any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev) == nil
	}

	backlog, err := s.deps.Logs.EventsSince(id, since)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()), time.Now().Add(wsWriteTimeout))
		return
	}
	cursor := since
	for _, ev := range backlog {
		if !writeEvent(ev) {
			return
		}
		cursor = ev.Seq
	}

	sub, err := s.deps.Logs.Subscribe(id)
	if err != nil {
		return
	}
	defer sub.Close()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.Seq <= cursor {
				continue
			}
			if !writeEvent(ev) {
				return
			}
			cursor = ev.Seq
		}
	}
}
