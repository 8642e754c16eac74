package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/wagmii/core/internal/agent"
)

// providerSummarizer adapts an agent.LLMProvider into compaction.Summarizer
// by issuing a single completion asking for a transcript summary and
// draining the stream into one string, the one-shot request
// plan_compaction expects for its replacement system-prompt section.
type providerSummarizer struct {
	provider agent.LLMProvider
}

const summarizePrompt = "Summarize the conversation transcript below into a compact " +
	"paragraph capturing decisions made, open tasks, and important facts. " +
	"Do not include pleasantries or restate the instructions.\n\n"

func (s providerSummarizer) Summarize(ctx context.Context, transcript string, model string) (string, error) {
	req := &agent.CompletionRequest{
		Model: model,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: summarizePrompt + transcript},
		},
		MaxTokens: 1024,
	}
	stream, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}

	var out strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarizer: %w", chunk.Error)
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}

// providerReviewer adapts an agent.LLMProvider into the review tool's
// one-shot completion interface.
type providerReviewer struct {
	provider agent.LLMProvider
	model    string
}

func (r providerReviewer) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := &agent.CompletionRequest{
		Model:  r.model,
		System: system,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 2048,
	}
	stream, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("reviewer: %w", err)
	}

	var out strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", fmt.Errorf("reviewer: %w", chunk.Error)
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}
