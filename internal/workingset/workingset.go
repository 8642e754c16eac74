// Package workingset tracks the files and directories the running
// conversation currently cares about, so the engine can fold a short
// "here's what we're looking at" summary into the system prompt and feed it
// to compaction as pin hints.
//
// Entries are observed from three places: plain paths mentioned in user
// text, tool input fields whose key name hints a path, and tool output.
// Scoring favors both frequency and recency; pruning keeps only the
// highest-scoring entries so the summary stays small.
package workingset

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/wagmii/core/internal/config"
)

// Source records where an entry was last observed from.
type Source string

const (
	SourceUserText   Source = "user_text"
	SourceToolInput  Source = "tool_input"
	SourceToolOutput Source = "tool_output"
)

// Entry is the working-set record for a single relative path.
type Entry struct {
	RelPath    string
	Touches    int
	LastTurn   uint64
	Exists     bool
	IsDir      bool
	LastSource Source
}

// score is 4*touches plus a recency bonus that decays with turn age.
func (e Entry) score(currentTurn uint64) float64 {
	age := int64(currentTurn) - int64(e.LastTurn)
	if age < 0 {
		age = 0
	}
	return 4*float64(e.Touches) + recencyBonus(age)
}

// recencyBonus decays linearly over 8 turns, then flattens at zero.
func recencyBonus(ageInTurns int64) float64 {
	const window = 8.0
	remaining := window - float64(ageInTurns)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// pathHintKeys are tool-input field names that are treated as holding a
// workspace-relative path even when their value isn't matched by the path
// regex (e.g. a bare filename with no separator or extension).
var pathHintKeys = map[string]struct{}{
	"path": {}, "file": {}, "filepath": {}, "file_path": {},
	"filename": {}, "dir": {}, "directory": {}, "target": {},
	"source": {}, "dest": {}, "destination": {},
}

// pathPattern matches plausible relative or absolute file paths embedded in
// free text: a run of path segments with at least one separator, optionally
// followed by a line/column suffix like ":42" which is stripped.
var pathPattern = regexp.MustCompile(`(?:^|[\s"'` + "`" + `(\[])((?:\.{0,2}/)?(?:[\w.\-]+/)+[\w.\-]+)`)

// WorkingSet is the per-thread, mutable working-set tracker. Safe for
// concurrent use; every tracked engine serializes turns already, but the
// fsnotify-driven Exists/IsDir refresh runs on its own goroutine.
type WorkingSet struct {
	mu      sync.Mutex
	root    string
	turn    uint64
	entries map[string]*Entry
	maxSize int
}

// New creates a tracker rooted at workspaceRoot (used to stat candidate
// paths for Exists/IsDir) with pruning bounded by cfg.MaxEntries (default 16).
func New(workspaceRoot string, cfg config.WorkingSetConfig) *WorkingSet {
	max := cfg.MaxEntries
	if max <= 0 {
		max = 16
	}
	return &WorkingSet{
		root:    workspaceRoot,
		entries: make(map[string]*Entry),
		maxSize: max,
	}
}

// Turn returns the current turn counter.
func (w *WorkingSet) Turn() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.turn
}

// AdvanceTurn bumps the turn counter; call once per user message.
func (w *WorkingSet) AdvanceTurn() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turn++
	return w.turn
}

// ObserveText scans free text (typically a user message) for path-shaped
// substrings and records a touch for each.
func (w *WorkingSet) ObserveText(text string) {
	matches := pathPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range matches {
		w.touchLocked(m[1], SourceUserText)
	}
}

// ObserveToolInput inspects a tool's decoded JSON input for fields whose key
// hints at a path and records a touch for each string value found.
func (w *WorkingSet) ObserveToolInput(input map[string]any) {
	if len(input) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, val := range input {
		if _, ok := pathHintKeys[strings.ToLower(key)]; !ok {
			continue
		}
		switch v := val.(type) {
		case string:
			if v != "" {
				w.touchLocked(v, SourceToolInput)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					w.touchLocked(s, SourceToolInput)
				}
			}
		}
	}
}

// ObserveToolOutput scans a tool result's content for path-shaped
// substrings (e.g. a grep or ls result) and records a touch for each.
func (w *WorkingSet) ObserveToolOutput(content string) {
	matches := pathPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range matches {
		w.touchLocked(m[1], SourceToolOutput)
	}
}

func (w *WorkingSet) touchLocked(raw string, src Source) {
	rel := w.relativize(raw)
	if rel == "" {
		return
	}
	e, ok := w.entries[rel]
	if !ok {
		e = &Entry{RelPath: rel}
		w.entries[rel] = e
	}
	e.Touches++
	e.LastTurn = w.turn
	e.LastSource = src
	e.Exists, e.IsDir = w.stat(rel)
	w.pruneLocked()
}

// relativize normalizes a candidate path against the workspace root,
// stripping a trailing ":line[:col]" suffix and rejecting paths that escape
// the workspace once resolved.
func (w *WorkingSet) relativize(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, ",")
	raw = strings.TrimSuffix(raw, ".")
	raw = strings.TrimSuffix(raw, ")")
	if idx := strings.IndexByte(raw, ':'); idx > 0 && looksLikeLineSuffix(raw[idx:]) {
		raw = raw[:idx]
	}
	if raw == "" || raw == "." || raw == ".." {
		return ""
	}
	var abs string
	if filepath.IsAbs(raw) {
		abs = filepath.Clean(raw)
	} else {
		abs = filepath.Clean(filepath.Join(w.root, raw))
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

func looksLikeLineSuffix(s string) bool {
	s = strings.TrimPrefix(s, ":")
	for _, part := range strings.SplitN(s, ":", 2) {
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return s != ""
}

func (w *WorkingSet) stat(rel string) (exists, isDir bool) {
	info, err := os.Stat(filepath.Join(w.root, rel))
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

// pruneLocked keeps only the maxSize highest-scoring entries.
func (w *WorkingSet) pruneLocked() {
	if len(w.entries) <= w.maxSize {
		return
	}
	ranked := make([]*Entry, 0, len(w.entries))
	for _, e := range w.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := ranked[i].score(w.turn), ranked[j].score(w.turn)
		if si != sj {
			return si > sj
		}
		return ranked[i].RelPath < ranked[j].RelPath
	})
	keep := make(map[string]*Entry, w.maxSize)
	for _, e := range ranked[:w.maxSize] {
		keep[e.RelPath] = e
	}
	w.entries = keep
}

// Entries returns a snapshot of tracked entries ordered by descending score.
func (w *WorkingSet) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].score(w.turn), out[j].score(w.turn)
		if si != sj {
			return si > sj
		}
		return out[i].RelPath < out[j].RelPath
	})
	return out
}

// Paths returns the tracked relative paths in the same order as Entries.
func (w *WorkingSet) Paths() []string {
	entries := w.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

// Summary renders a short "files currently in view" block suitable for
// folding into the system prompt.
func (w *WorkingSet) Summary() string {
	entries := w.Entries()
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Working set (files recently touched in this conversation):\n")
	for _, e := range entries {
		marker := "file"
		if e.IsDir {
			marker = "dir"
		}
		if !e.Exists {
			marker = "missing"
		}
		b.WriteString("- " + e.RelPath + " (" + marker + ")\n")
	}
	return b.String()
}

// Rebuild reconstructs the working set from a message history on session
// resume, replaying each message's observable text/tool fields in order so
// touch counts and recency reflect the original conversation.
func Rebuild(workspaceRoot string, cfg config.WorkingSetConfig, messages []RebuildMessage) *WorkingSet {
	ws := New(workspaceRoot, cfg)
	for _, m := range messages {
		ws.AdvanceTurn()
		if m.Text != "" {
			ws.ObserveText(m.Text)
		}
		for _, in := range m.ToolInputs {
			ws.ObserveToolInput(in)
		}
		for _, out := range m.ToolOutputs {
			ws.ObserveToolOutput(out)
		}
	}
	return ws
}

// RebuildMessage is the minimal shape Rebuild needs from a persisted
// message, kept independent of any one message model so callers in
// sessions/runtimelog can adapt their own types to it.
type RebuildMessage struct {
	Text        string
	ToolInputs  []map[string]any
	ToolOutputs []string
}
