package engine

import (
	"context"
	"testing"
	"time"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/capacity"
	"github.com/wagmii/core/internal/compaction"
	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/sessions"
	"github.com/wagmii/core/pkg/models"
)

// fakeProvider answers every completion with a single fixed chunk, enough to
// drive the turn loop end to end without a real LLM backend.
type fakeProvider struct {
	reply string
}

func (f *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: f.reply, Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Models() []agent.Model {
	return []agent.Model{{ID: "fake-model", Name: "Fake Model", ContextSize: 8000}}
}

func (f *fakeProvider) SupportsTools() bool { return false }

// fakeSummarizer never actually gets invoked by these tests (the fixed
// threshold configs keep compaction dormant) but satisfies the dependency.
type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, transcript string, model string) (string, error) {
	return "summary of: " + transcript, nil
}

func newTestEngine(t *testing.T, reply string) (*Engine, *runtimelog.Manager, *sessions.MemoryStore) {
	t.Helper()
	logs, err := runtimelog.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := sessions.NewMemoryStore()
	runtime := agent.NewRuntime(&fakeProvider{reply: reply}, store)

	controller := capacity.New(config.CapacityConfig{
		Enabled:       true,
		ContextWindow: 100000,
		MinSlack:      500,
		ProfileWindow: 5,
	})

	e := New(runtime, store, logs, controller, nil, compaction.PlanConfig{
		Enabled:             true,
		TokenThreshold:      1 << 30,
		MessageThreshold:    1 << 30,
		PinnedRecentCount:   4,
		MinUnpinnedMessages: 1,
	}, fakeSummarizer{}, config.WorkingSetConfig{MaxEntries: 16}, nil)

	return e, logs, store
}

func waitForTurnTerminal(t *testing.T, logs *runtimelog.Manager, threadID, turnID string) runtimelog.Turn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, err := logs.EventsSince(threadID, 0)
		if err != nil {
			t.Fatal(err)
		}
		for _, ev := range events {
			if ev.TurnID == turnID && ev.EventType == runtimelog.EventTurnCompleted {
				th, err := logs.GetThread(threadID)
				if err != nil {
					t.Fatal(err)
				}
				return runtimelog.Turn{ID: turnID, ThreadID: threadID, Status: runtimelog.TurnCompleted, StartedAt: th.UpdatedAt}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("turn %s on thread %s did not complete in time", turnID, threadID)
	return runtimelog.Turn{}
}

func TestCreateThread_ProvisionsBackingSession(t *testing.T) {
	e, _, store := newTestEngine(t, "hi")
	th, err := e.CreateThread(context.Background(), runtimelog.CreateThreadRequest{Model: "fake-model"})
	if err != nil {
		t.Fatal(err)
	}
	key := sessions.SessionKey("engine", models.ChannelType("api"), th.ID)
	if _, err := store.GetByKey(context.Background(), key); err != nil {
		t.Fatalf("expected backing session to exist: %v", err)
	}
}

func TestSendMessage_CompletesTurnAndPersistsHistory(t *testing.T) {
	e, logs, store := newTestEngine(t, "hello there")
	th, err := e.CreateThread(context.Background(), runtimelog.CreateThreadRequest{Model: "fake-model"})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := e.SendMessage(context.Background(), th.ID, "hi, how are you")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Status != runtimelog.TurnRunning {
		t.Fatalf("expected turn to start running, got %s", turn.Status)
	}

	waitForTurnTerminal(t, logs, th.ID, turn.ID)

	history, err := store.GetHistory(context.Background(), th.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v %+v", history[0].Role, history[1].Role)
	}
	if history[1].Content != "hello there" {
		t.Fatalf("unexpected assistant content: %q", history[1].Content)
	}
}

func TestSendMessage_ConflictWhileTurnActive(t *testing.T) {
	e, logs, _ := newTestEngine(t, "ok")
	th, err := e.CreateThread(context.Background(), runtimelog.CreateThreadRequest{})
	if err != nil {
		t.Fatal(err)
	}
	turn, err := e.SendMessage(context.Background(), th.ID, "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SendMessage(context.Background(), th.ID, "second"); err == nil {
		t.Fatal("expected conflict starting a second turn while one is active")
	}
	waitForTurnTerminal(t, logs, th.ID, turn.ID)
}

func TestInterrupt_MarksTurnInterrupted(t *testing.T) {
	e, logs, _ := newTestEngine(t, "slow reply")
	th, err := e.CreateThread(context.Background(), runtimelog.CreateThreadRequest{})
	if err != nil {
		t.Fatal(err)
	}
	turn, err := e.SendMessage(context.Background(), th.ID, "go")
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Interrupt(th.ID, turn.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, _ := logs.EventsSince(th.ID, 0)
		for _, ev := range events {
			if ev.TurnID == turn.ID && ev.EventType == runtimelog.EventTurnInterruptRequest {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected an interrupt-requested event")
}

func TestCompactContext_NoopWhenBelowThreshold(t *testing.T) {
	e, _, store := newTestEngine(t, "reply")
	th, err := e.CreateThread(context.Background(), runtimelog.CreateThreadRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(context.Background(), th.ID, &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := e.CompactContext(context.Background(), th.ID); err != nil {
		t.Fatalf("compaction below threshold should be a no-op, not an error: %v", err)
	}
}
