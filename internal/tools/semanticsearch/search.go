// Package semanticsearch implements a workspace code-search tool with hybrid
// lexical + hashed-embedding ranking. It needs no external index or vector
// store: chunks are scored on the fly against the query.
package semanticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/tools/files"
)

const (
	defaultTopK        = 8
	maxTopK            = 64
	defaultChunkSize   = 800
	minChunkSize       = 200
	maxChunkSize       = 4000
	defaultMaxFiles    = 300
	maxMaxFiles        = 2000
	maxFileBytes       = 1_500_000
	maxCandidateChunks = 4000
	excerptChars       = 280
	embedDim           = 256

	disableSemanticEnv = "NEXUS_DISABLE_SEMANTIC_SEARCH"
)

// Config configures the semantic_search tool.
type Config struct {
	Workspace string
}

// Hit is one ranked result chunk.
type Hit struct {
	Path          string   `json:"path"`
	Line          int      `json:"line"`
	Excerpt       string   `json:"excerpt"`
	Score         float64  `json:"score"`
	LexicalScore  float64  `json:"lexical_score"`
	SemanticScore *float64 `json:"semantic_score,omitempty"`
}

// Response is the tool output.
type Response struct {
	Query           string `json:"query"`
	Results         []Hit  `json:"results"`
	ScannedFiles    int    `json:"scanned_files"`
	CandidateChunks int    `json:"candidate_chunks"`
	FallbackUsed    bool   `json:"fallback_used"`
	Backend         string `json:"backend"`
	Truncated       bool   `json:"truncated"`
}

type candidate struct {
	path          string
	line          int
	text          string
	lexicalScore  float64
	semanticScore float64
	score         float64
}

// Tool is the semantic_search tool.
type Tool struct {
	resolver  files.Resolver
	workspace string
}

// NewTool creates a semantic_search tool scoped to the workspace.
func NewTool(cfg Config) *Tool {
	return &Tool{
		resolver:  files.Resolver{Root: cfg.Workspace},
		workspace: cfg.Workspace,
	}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "semantic_search" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Search workspace code by meaning, not just keywords. Returns the most relevant chunks with file paths and line numbers."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for, phrased naturally.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Restrict the search to one path (relative to workspace).",
			},
			"paths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Restrict the search to these paths.",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results to return (default 8, max 64).",
			},
			"chunk_size": map[string]interface{}{
				"type":        "integer",
				"description": "Target chunk size in characters (default 800).",
			},
			"max_files": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum files to scan (default 300).",
			},
			"include_hidden": map[string]interface{}{
				"type":        "boolean",
				"description": "Include hidden files and directories (default false).",
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs the search.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query         string   `json:"query"`
		Path          string   `json:"path"`
		Paths         []string `json:"paths"`
		TopK          int      `json:"top_k"`
		ChunkSize     int      `json:"chunk_size"`
		MaxFiles      int      `json:"max_files"`
		IncludeHidden bool     `json:"include_hidden"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return toolError("query cannot be empty"), nil
	}

	topK := clamp(input.TopK, defaultTopK, 1, maxTopK)
	chunkSize := clamp(input.ChunkSize, defaultChunkSize, minChunkSize, maxChunkSize)
	maxFiles := clamp(input.MaxFiles, defaultMaxFiles, 1, maxMaxFiles)

	roots, err := t.resolveRoots(input.Path, input.Paths)
	if err != nil {
		return toolError(err.Error()), nil
	}

	fileList := collectFiles(roots, input.IncludeHidden, maxFiles)

	queryTokens := tokenize(query)
	queryPhrase := strings.ToLower(query)

	var candidates []candidate
	scannedFiles := 0

	for _, file := range fileList {
		if len(candidates) >= maxCandidateChunks {
			break
		}
		if ctx.Err() != nil {
			return toolError("search cancelled"), nil
		}
		info, err := os.Stat(file)
		if err != nil || info.Size() > maxFileBytes {
			continue
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		content := string(raw)
		if strings.ContainsRune(content, 0) {
			continue
		}
		scannedFiles++

		chunks := splitIntoChunks(content, chunkSize)
		if len(chunks) == 0 {
			continue
		}

		var bestForFile *candidate
		fileMatched := false
		for _, chunk := range chunks {
			if len(candidates) >= maxCandidateChunks {
				break
			}
			lexical := lexicalScore(chunk.text, queryTokens, queryPhrase)
			c := candidate{
				path:         file,
				line:         chunk.line,
				text:         chunk.text,
				lexicalScore: lexical,
				score:        lexical,
			}
			if lexical > 0 {
				candidates = append(candidates, c)
				fileMatched = true
			} else if bestForFile == nil || len(c.text) > len(bestForFile.text) {
				cc := c
				bestForFile = &cc
			}
		}
		if !fileMatched && bestForFile != nil {
			candidates = append(candidates, *bestForFile)
		}
	}

	fallbackUsed := false
	var queryVec []float64
	if semanticBackendEnabled() {
		queryVec = embed(query)
	}
	if queryVec == nil {
		fallbackUsed = true
	}

	for i := range candidates {
		if queryVec != nil {
			semantic := 0.0
			if chunkVec := embed(candidates[i].text); chunkVec != nil {
				semantic = cosineSimilarity(queryVec, chunkVec)
			}
			candidates[i].semanticScore = semantic
			candidates[i].score = candidates[i].lexicalScore*0.35 + semantic*0.65
		} else {
			candidates[i].semanticScore = 0
			candidates[i].score = candidates[i].lexicalScore
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].path != candidates[j].path {
			return candidates[i].path < candidates[j].path
		}
		return candidates[i].line < candidates[j].line
	})

	truncated := len(candidates) > topK
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		hit := Hit{
			Path:         t.relPath(c.path),
			Line:         c.line,
			Excerpt:      compactExcerpt(c.text, excerptChars),
			Score:        roundScore(c.score),
			LexicalScore: roundScore(c.lexicalScore),
		}
		if !fallbackUsed {
			semantic := roundScore(c.semanticScore)
			hit.SemanticScore = &semantic
		}
		hits = append(hits, hit)
	}

	backend := "local-hash-embed"
	if fallbackUsed {
		backend = "lexical-only"
	}
	response := Response{
		Query:           query,
		Results:         hits,
		ScannedFiles:    scannedFiles,
		CandidateChunks: len(hits),
		FallbackUsed:    fallbackUsed,
		Backend:         backend,
		Truncated:       truncated,
	}

	encoded, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode response: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

func (t *Tool) resolveRoots(path string, paths []string) ([]string, error) {
	var roots []string
	if strings.TrimSpace(path) != "" {
		resolved, err := t.resolver.Resolve(path)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resolved)
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		resolved, err := t.resolver.Resolve(p)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resolved)
	}
	if len(roots) == 0 {
		root := t.workspace
		if root == "" {
			root = "."
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		roots = append(roots, abs)
	}

	seen := make(map[string]struct{}, len(roots))
	deduped := roots[:0]
	for _, r := range roots {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			deduped = append(deduped, r)
		}
	}
	return deduped, nil
}

func (t *Tool) relPath(path string) string {
	root := t.workspace
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(abs, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func collectFiles(roots []string, includeHidden bool, maxFiles int) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, root := range roots {
		if len(out) >= maxFiles {
			break
		}
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if _, ok := seen[root]; !ok {
				seen[root] = struct{}{}
				out = append(out, root)
			}
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if len(out) >= maxFiles {
				return filepath.SkipAll
			}
			name := d.Name()
			if !includeHidden && strings.HasPrefix(name, ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				out = append(out, path)
			}
			return nil
		})
	}
	return out
}

type chunk struct {
	line int
	text string
}

// splitIntoChunks cuts content into roughly target-sized chunks on line
// boundaries, recording the 1-based start line of each chunk.
func splitIntoChunks(content string, targetChars int) []chunk {
	var chunks []chunk
	var current strings.Builder
	startLine := 1
	currentLine := 1

	for _, line := range strings.Split(content, "\n") {
		next := current.Len() + len(line) + 1
		if current.Len() > 0 && next > targetChars {
			chunks = append(chunks, chunk{line: startLine, text: strings.TrimSpace(current.String())})
			current.Reset()
			startLine = currentLine
		}
		current.WriteString(line)
		current.WriteString("\n")
		currentLine++
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, chunk{line: startLine, text: strings.TrimSpace(current.String())})
	}
	return chunks
}

// tokenize splits text into unique lowercase identifier-ish tokens longer
// than one character.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, ch := range text {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			current.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			current.WriteRune(ch + ('a' - 'A'))
		default:
			flush()
		}
	}
	flush()

	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if len(tok) <= 1 {
			continue
		}
		if _, ok := seen[tok]; !ok {
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func lexicalScore(chunkText string, queryTokens []string, queryPhrase string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	chunkNorm := strings.ToLower(chunkText)
	hits := 0
	for _, token := range queryTokens {
		if strings.Contains(chunkNorm, token) {
			hits++
		}
	}
	tokenScore := float64(hits) / float64(len(queryTokens))
	phraseBonus := 0.0
	if queryPhrase != "" && strings.Contains(chunkNorm, queryPhrase) {
		phraseBonus = 0.2
	}
	return math.Min(tokenScore+phraseBonus, 1.0)
}

func semanticBackendEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(disableSemanticEnv)))
	return v != "1" && v != "true"
}

// embed hashes tokens into a fixed-size bag-of-words vector, L2-normalized.
func embed(text string) []float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	vec := make([]float64, embedDim)
	for _, token := range tokens {
		vec[stableHash(token)%embedDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm <= math.SmallestNonzeroFloat64 {
		return nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// stableHash is FNV-1a 64-bit.
func stableHash(text string) int {
	hash := uint64(0xcbf29ce484222325)
	for i := 0; i < len(text); i++ {
		hash ^= uint64(text[i])
		hash *= 0x100000001b3
	}
	return int(hash % uint64(embedDim))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}

func compactExcerpt(text string, maxChars int) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(normalized)
	if len(runes) <= maxChars {
		return normalized
	}
	return strings.TrimRight(string(runes[:maxChars]), " ") + "..."
}

func roundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}

func clamp(value, def, min, max int) int {
	if value <= 0 {
		value = def
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}
