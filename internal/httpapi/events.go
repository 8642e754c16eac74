package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wagmii/core/internal/runtimelog"
)

// handleThreadEvents serves the exactly-once-by-seq replay-then-live SSE
// stream: backlog frames with seq 1..N for since_seq=0, then only frames
// with seq>N on a later reconnect. The event log is already a flat
// append-only sequence, so SSE covers it without a bidirectional channel.
func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("%w: streaming unsupported", errInvalidRequest))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	backlog, err := s.deps.Logs.EventsSince(id, since)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	cursor := since
	for _, ev := range backlog {
		writeSSEEvent(w, flusher, ev)
		cursor = ev.Seq
	}

	sub, err := s.deps.Logs.Subscribe(id)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.Seq <= cursor {
				continue
			}
			writeSSEEvent(w, flusher, ev)
			cursor = ev.Seq
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev runtimelog.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.EventType, data)
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonEscape(err.Error()))
	flusher.Flush()
}

func jsonEscape(s string) string {
	data, marshalErr := json.Marshal(map[string]string{"message": s})
	if marshalErr != nil {
		return `{"message":"internal error"}`
	}
	return string(data)
}

// handleLegacyStream maps the runtime event vocabulary onto the older,
// coarser /v1/stream names some front-ends still speak (message.delta,
// tool.started, tool.progress, tool.completed, approval.required,
// sandbox.denied, turn.completed, done), replaying from the start of the
// turn created for this request.
func (s *Server) handleLegacyStream(w http.ResponseWriter, r *http.Request) {
	var body startTurnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, fmt.Errorf("%w: text is required", errInvalidRequest))
		return
	}
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		thread, err := s.deps.Engine.CreateThread(r.Context(), runtimelog.CreateThreadRequest{})
		if err != nil {
			writeError(w, err)
			return
		}
		threadID = thread.ID
	}

	turn, err := s.deps.Engine.SendMessage(r.Context(), threadID, body.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("%w: streaming unsupported", errInvalidRequest))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sub, err := s.deps.Logs.Subscribe(threadID)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.TurnID != "" && ev.TurnID != turn.ID {
				continue
			}
			legacy, payload := legacyEventName(ev)
			if legacy == "" {
				continue
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", legacy, data)
			flusher.Flush()
			if legacy == "done" || legacy == "turn.completed" {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
		}
	}
}

func legacyEventName(ev runtimelog.Event) (string, map[string]any) {
	switch ev.EventType {
	case runtimelog.EventMessageDelta:
		return "message.delta", ev.Payload
	case runtimelog.EventToolCallStarted:
		return "tool.started", ev.Payload
	case runtimelog.EventToolCallProgress:
		return "tool.progress", ev.Payload
	case runtimelog.EventToolCallComplete:
		return "tool.completed", ev.Payload
	case runtimelog.EventApprovalRequired:
		return "approval.required", ev.Payload
	case runtimelog.EventElevationRequired:
		return "sandbox.denied", ev.Payload
	case runtimelog.EventTurnCompleted:
		return "turn.completed", map[string]any{"status": "done"}
	case runtimelog.EventError:
		return "done", ev.Payload
	default:
		return "", nil
	}
}
