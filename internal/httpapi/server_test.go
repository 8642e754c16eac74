package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wagmii/core/internal/runtimelog"
)

func newTestServer(t *testing.T) (*Server, *runtimelog.Manager) {
	t.Helper()
	logs, err := runtimelog.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("runtimelog.NewManager: %v", err)
	}
	return NewServer(Dependencies{Logs: logs}), logs
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body should be JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestThreadEvents_UnknownThreadIs404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/nope/events", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body should be JSON: %v", err)
	}
	if body.Error.Status != http.StatusNotFound {
		t.Errorf("error.status = %d, want 404", body.Error.Status)
	}
}

func TestThreadEvents_InvalidCursorIs400(t *testing.T) {
	s, logs := newTestServer(t)
	thread, err := logs.CreateThread(runtimelog.CreateThreadRequest{})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/"+thread.ID+"/events?since_seq=banana", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// sseSeqs parses the id: lines out of an SSE body.
func sseSeqs(t *testing.T, body string) []string {
	t.Helper()
	var seqs []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			seqs = append(seqs, strings.TrimPrefix(line, "id: "))
		}
	}
	return seqs
}

func TestThreadEvents_CursorReplay(t *testing.T) {
	s, logs := newTestServer(t)
	thread, err := logs.CreateThread(runtimelog.CreateThreadRequest{})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := logs.AppendEvent(thread.ID, "", "", runtimelog.EventStatus, map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	fetch := func(since string) []string {
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/v1/threads/"+thread.ID+"/events?since_seq="+since, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
			t.Fatalf("content-type = %q", got)
		}
		return sseSeqs(t, rec.Body.String())
	}

	all := fetch("0")
	if len(all) != 3 || all[0] != "1" || all[2] != "3" {
		t.Fatalf("backlog seqs = %v, want [1 2 3]", all)
	}

	// Reconnecting with the last-seen cursor returns only newer events.
	tail := fetch("2")
	if len(tail) != 1 || tail[0] != "3" {
		t.Fatalf("cursor replay seqs = %v, want [3]", tail)
	}

	// A cursor at the head returns nothing: no duplicates.
	if head := fetch("3"); len(head) != 0 {
		t.Fatalf("head replay seqs = %v, want none", head)
	}
}
