package compaction

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/retry"
	"github.com/wagmii/core/pkg/models"
)

// pathLikeToken matches bare relative/absolute file paths mentioned in free
// text: at least one path separator and a recognizable extension, so we
// don't snag plain prose sentences ending in a period.
var pathLikeToken = regexp.MustCompile(`(?:[A-Za-z0-9_.\-]+/)+[A-Za-z0-9_.\-]+\.[A-Za-z0-9]{1,8}\b`)

// PlanConfig is the subset of config.CompactionConfig plan.go needs, kept
// as its own type so this package doesn't import internal/config for
// anything beyond these few thresholds.
type PlanConfig struct {
	Enabled             bool
	TokenThreshold      int
	MessageThreshold    int
	PinnedRecentCount   int
	MinUnpinnedMessages int
	SummaryModel        string
}

// FromConfig adapts a config.CompactionConfig into a PlanConfig, applying
// the same defaults the engine config layer would.
func FromConfig(cfg config.CompactionConfig) PlanConfig {
	pc := PlanConfig{
		Enabled:             cfg.Enabled,
		TokenThreshold:      cfg.TokenThreshold,
		MessageThreshold:    cfg.MessageThreshold,
		PinnedRecentCount:   cfg.PinnedRecentCount,
		MinUnpinnedMessages: cfg.MinUnpinnedMessages,
		SummaryModel:        cfg.SummaryModel,
	}
	if pc.PinnedRecentCount <= 0 {
		pc.PinnedRecentCount = 4
	}
	if pc.MinUnpinnedMessages <= 0 {
		pc.MinUnpinnedMessages = 6
	}
	return pc
}

// errorMarkers are substrings whose presence pins a message regardless of
// recency - the conversation is more likely to need the surrounding context
// of a failure or patch later on.
var errorMarkers = []string{
	"error", "failed", "panic", "traceback", "stack trace",
	"assertion failed", "test failed", "diff --git", "+++ b/", "--- a/",
	"*** begin patch", "```diff", "apply_patch",
}

// CompactionPlan is the derived set of decisions plan_compaction makes
// before any summarization request is sent: which message indices stay
// verbatim ("pinned"), which get folded into the summary, and which
// workspace paths the plan considered relevant.
type CompactionPlan struct {
	PinnedIndices     []int
	SummarizeIndices  []int
	WorkingSetPaths   map[string]struct{}
}

// EstimateRequestTokens applies the full-request estimation formula: the
// per-message token sum scaled by 1.5 to account for role/tool-call framing
// the per-message estimator misses, plus system-prompt tokens at 3
// chars/token, plus a 12*N+48 per-message overhead. The capacity controller
// uses this to forecast the next turn's prompt size.
func EstimateRequestTokens(messages []*models.Message, systemPrompt string) int {
	n := len(messages)
	sum := EstimateMessagesTokensModel(messages)
	total := int(float64(sum) * 1.5)
	total += (len(systemPrompt) + 2) / 3
	total += 12*n + 48
	return total
}

// EstimateMessagesTokensModel mirrors EstimateMessagesTokens but operates
// directly on pkg/models.Message instead of the package's local Message
// shape, which is what the engine and capacity controller actually hold.
func EstimateMessagesTokensModel(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokensModel(m)
	}
	return total
}

// EstimateMessageTokensModel estimates a single message: text content at
// 4 chars/token, each tool-call's serialized input at 4 chars/token, and
// each tool-result's content at 4 chars/token. Thinking content, if ever
// carried on a models.Message, is not part of this shape and is ignored.
func EstimateMessageTokensModel(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		chars += len(tr.Content)
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// ShouldCompact decides whether the history needs compaction before the
// next request is built. A disabled config always returns false; this is a
// load-bearing invariant tested independently of any other input.
func ShouldCompact(messages []*models.Message, cfg PlanConfig, systemPrompt string, externalPins map[int]struct{}, externalPaths []string) bool {
	if !cfg.Enabled {
		return false
	}
	plan := PlanCompaction(messages, cfg, externalPins, externalPaths)
	pinned := indexSet(plan.PinnedIndices)

	pinnedTokens := 0
	pinnedCount := 0
	unpinnedTokens := 0
	unpinnedCount := 0
	for i, m := range messages {
		tok := EstimateMessageTokensModel(m)
		if _, isPinned := pinned[i]; isPinned {
			pinnedTokens += tok
			pinnedCount++
		} else {
			unpinnedTokens += tok
			unpinnedCount++
		}
	}

	tokenThreshold := cfg.TokenThreshold
	messageThreshold := cfg.MessageThreshold
	tokenBudget := tokenThreshold - pinnedTokens
	messageBudget := messageThreshold - pinnedCount

	overBudget := (tokenThreshold > 0 && unpinnedTokens > tokenBudget) ||
		(messageThreshold > 0 && unpinnedCount > messageBudget)
	if !overBudget {
		return false
	}
	return unpinnedCount >= cfg.MinUnpinnedMessages || tokenBudget < 0 || messageBudget < 0
}

// PlanCompaction derives the pin set without sending any summarization
// request: the last K messages, any message mentioning a working-set path
// or an error/patch marker, and the fixpoint closure required to keep every
// tool-call/tool-result pair either both pinned or both summarized.
func PlanCompaction(messages []*models.Message, cfg PlanConfig, externalPins map[int]struct{}, externalPaths []string) CompactionPlan {
	n := len(messages)
	pinned := make(map[int]struct{}, cfg.PinnedRecentCount)

	k := cfg.PinnedRecentCount
	for i := n - k; i < n; i++ {
		if i >= 0 {
			pinned[i] = struct{}{}
		}
	}
	for i := range externalPins {
		if i >= 0 && i < n {
			pinned[i] = struct{}{}
		}
	}

	paths := make(map[string]struct{}, len(externalPaths))
	for _, p := range externalPaths {
		if p != "" {
			paths[p] = struct{}{}
		}
	}
	// Recent messages seed the working set the same way the live tracker
	// would, so a resumed plan sees roughly the same paths.
	recentStart := n - 2*k
	if recentStart < 0 {
		recentStart = 0
	}
	for i := recentStart; i < n; i++ {
		for _, p := range extractPaths(messageText(messages[i])) {
			paths[p] = struct{}{}
		}
	}

	for i, m := range messages {
		if _, ok := pinned[i]; ok {
			continue
		}
		text := messageText(m)
		if mentionsWorkingSetPath(text, paths) || mentionsErrorMarker(text) {
			pinned[i] = struct{}{}
		}
	}

	enforceToolPairInvariant(messages, pinned)

	pinnedList := sortedIndices(pinned)
	summarizeList := make([]int, 0, n-len(pinned))
	for i := 0; i < n; i++ {
		if _, ok := pinned[i]; !ok {
			summarizeList = append(summarizeList, i)
		}
	}

	return CompactionPlan{
		PinnedIndices:    pinnedList,
		SummarizeIndices: summarizeList,
		WorkingSetPaths:  paths,
	}
}

// enforceToolPairInvariant runs a bounded fixpoint: as long as pinning a
// message pulls in or drops its tool-call/tool-result partner, keep
// iterating. Convergence is guaranteed within len(messages) passes because
// each pass either pins a strictly larger set or makes no change.
func enforceToolPairInvariant(messages []*models.Message, pinned map[int]struct{}) {
	resultIndexByCallID := make(map[string]int)
	callIndexByCallID := make(map[string]int)
	for i, m := range messages {
		for _, tc := range m.ToolCalls {
			callIndexByCallID[tc.ID] = i
		}
		for _, tr := range m.ToolResults {
			resultIndexByCallID[tr.ToolCallID] = i
		}
	}

	maxIterations := len(messages) + 10
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for callID, callIdx := range callIndexByCallID {
			resultIdx, hasResult := resultIndexByCallID[callID]
			_, callPinned := pinned[callIdx]
			resultPinned := hasResult
			if hasResult {
				_, resultPinned = pinned[resultIdx]
			} else {
				resultPinned = false
			}
			if callPinned && hasResult && !resultPinned {
				pinned[resultIdx] = struct{}{}
				changed = true
			}
			if resultPinned && !callPinned {
				pinned[callIdx] = struct{}{}
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

func messageText(m *models.Message) string {
	if m == nil {
		return ""
	}
	return m.Content
}

func mentionsErrorMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func mentionsWorkingSetPath(text string, paths map[string]struct{}) bool {
	for p := range paths {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func extractPaths(text string) []string {
	var out []string
	for _, m := range pathLikeToken.FindAllString(text, -1) {
		out = append(out, m)
	}
	return out
}

func indexSet(idx []int) map[int]struct{} {
	s := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		s[i] = struct{}{}
	}
	return s
}

func sortedIndices(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Summarizer performs the one-shot summarization request.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, model string) (string, error)
}

// CompactMessagesResult is what compact_messages/compact_messages_safe
// return: the surviving pinned messages, the replacement system prompt, and
// the removed messages (for callers that want to log or archive them).
type CompactMessagesResult struct {
	PinnedMessages []*models.Message
	SystemPrompt   []SystemPromptBlock
	Removed        []*models.Message
	Changed        bool
}

// SystemPromptBlock is one block of the replacement system prompt: either
// the original (preserved verbatim, always first) or a generated summary
// block appended after it.
type SystemPromptBlock struct {
	Text      string
	Ephemeral bool
}

// CompactMessages builds the transcript for the pinned-out messages,
// summarizes it, and returns the replacement history/prompt. If nothing
// needs summarizing it returns the input unchanged.
func CompactMessages(ctx context.Context, messages []*models.Message, originalPrompt string, cfg PlanConfig, summarizer Summarizer, externalPins map[int]struct{}, externalPaths []string) (CompactMessagesResult, error) {
	plan := PlanCompaction(messages, cfg, externalPins, externalPaths)
	if len(plan.SummarizeIndices) == 0 {
		return unchangedResult(messages, originalPrompt), nil
	}

	toSummarize := make([]*models.Message, 0, len(plan.SummarizeIndices))
	for _, i := range plan.SummarizeIndices {
		toSummarize = append(toSummarize, messages[i])
	}
	transcript := buildTranscript(toSummarize)

	model := cfg.SummaryModel
	summary, err := summarizer.Summarize(ctx, transcript, model)
	if err != nil {
		return unchangedResult(messages, originalPrompt), err
	}

	pinnedMessages := make([]*models.Message, 0, len(plan.PinnedIndices))
	for _, i := range plan.PinnedIndices {
		pinnedMessages = append(pinnedMessages, messages[i])
	}
	removed := make([]*models.Message, 0, len(plan.SummarizeIndices))
	for _, i := range plan.SummarizeIndices {
		removed = append(removed, messages[i])
	}

	blocks := []SystemPromptBlock{{Text: originalPrompt}}
	blocks = append(blocks, SystemPromptBlock{Text: "Conversation summary:\n" + summary})
	blocks = append(blocks, SystemPromptBlock{Text: workflowContextBlock(toSummarize, plan.WorkingSetPaths)})
	blocks = append(blocks, SystemPromptBlock{Text: "Use the summary above for context on what happened before. Continue the conversation naturally, referencing files and prior work as needed."})

	return CompactMessagesResult{
		PinnedMessages: pinnedMessages,
		SystemPrompt:   blocks,
		Removed:        removed,
		Changed:        true,
	}, nil
}

func unchangedResult(messages []*models.Message, originalPrompt string) CompactMessagesResult {
	return CompactMessagesResult{
		PinnedMessages: messages,
		SystemPrompt:   []SystemPromptBlock{{Text: originalPrompt}},
		Changed:        false,
	}
}

// CompactMessagesSafe wraps CompactMessages with the engine's standard
// transient-retry policy (1s, 2s, 4s). A non-transient failure - or
// exhausting all attempts - returns the original messages and prompt
// unchanged rather than propagating the error to the caller's turn.
func CompactMessagesSafe(ctx context.Context, messages []*models.Message, originalPrompt string, cfg PlanConfig, summarizer Summarizer, externalPins map[int]struct{}, externalPaths []string, isTransient func(error) bool) (CompactMessagesResult, error) {
	var result CompactMessagesResult
	retryCfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     4 * time.Second,
		Factor:       2,
	}
	res := retry.Do(ctx, retryCfg, func() error {
		r, err := CompactMessages(ctx, messages, originalPrompt, cfg, summarizer, externalPins, externalPaths)
		if err != nil && isTransient != nil && !isTransient(err) {
			return retry.Permanent(err)
		}
		result = r
		return err
	})
	if res.Err != nil {
		return unchangedResult(messages, originalPrompt), res.Err
	}
	return result, nil
}

func buildTranscript(messages []*models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		text := m.Content
		if len(text) > 800 {
			text = text[:800] + "…"
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
		for _, tr := range m.ToolResults {
			content := tr.Content
			if len(content) > 240 {
				content = content[:240] + "…"
			}
			b.WriteString("  tool_result: ")
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	out := b.String()
	const headLimit = 14000
	const tailLimit = 6000
	if len(out) > 24000 {
		out = out[:headLimit] + "\n…[trimmed]…\n" + out[len(out)-tailLimit:]
	}
	return out
}

func workflowContextBlock(messages []*models.Message, paths map[string]struct{}) string {
	var b strings.Builder
	b.WriteString("Files touched before this summary:\n")
	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)
	for _, p := range sortedPaths {
		b.WriteString("- " + p + "\n")
	}
	tools := map[string]struct{}{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			tools[tc.Name] = struct{}{}
		}
	}
	if len(tools) > 0 {
		toolNames := make([]string, 0, len(tools))
		for t := range tools {
			toolNames = append(toolNames, t)
		}
		sort.Strings(toolNames)
		b.WriteString("Tools used: " + strings.Join(toolNames, ", ") + "\n")
	}
	return b.String()
}
