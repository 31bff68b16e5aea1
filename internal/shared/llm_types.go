package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Outcome describes how an AI-backed result was produced.
type Outcome string

const (
	OutcomeAI       Outcome = "ai"
	OutcomeFallback Outcome = "fallback"
	OutcomeCache    Outcome = "cache"
)

// AgentMeta holds operational metadata for an agent execution.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
	Outcome   Outcome
}
