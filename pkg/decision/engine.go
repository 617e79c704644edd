package decision

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmad-method/orchestrator/pkg/llmclient"
)

var certaintyMarkers = []string{"definitely", "clearly", "certain"}
var uncertaintyMarkers = []string{"maybe", "unsure", "might", "need more", "missing"}

// Engine is the Decision Engine component.
type Engine struct {
	onboardingDir string
	llm           llmclient.Client
	cache         *onboardingCache
}

// New creates an Engine. onboardingDir may not exist; its absence is a
// silent fallback to LLM reasoning. Call WatchOnboarding to keep the
// onboarding-document cache fresh across edits.
func New(onboardingDir string, llm llmclient.Client) *Engine {
	return &Engine{onboardingDir: onboardingDir, llm: llm, cache: newOnboardingCache()}
}

// Decide produces a Decision for question given a free-form context map,
// preferring onboarding-document evidence over LLM reasoning.
func (e *Engine) Decide(ctx context.Context, question string, ctxData map[string]any) (*Decision, error) {
	if d := e.onboardingLookup(question, ctxData); d != nil {
		return d, nil
	}
	return e.llmReasoning(ctx, question, ctxData)
}

// onboardingLookup scans markdown files in the onboarding directory for
// token overlap with question. Returns nil on no hit, missing directory, or
// read failure (all silent fallbacks to LLM reasoning).
func (e *Engine) onboardingLookup(question string, ctxData map[string]any) *Decision {
	if e.onboardingDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.onboardingDir)
	if err != nil {
		return nil
	}

	tokens := tokenize(question)
	if len(tokens) == 0 {
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}
		content, ok := e.cache.get(e.onboardingDir, entry.Name())
		if !ok {
			continue
		}

		overlap := 0
		for _, t := range tokens {
			if strings.Contains(content, t) {
				overlap++
			}
		}
		if overlap >= 2 {
			return &Decision{
				Question:   question,
				Value:      "see " + entry.Name(),
				Confidence: 0.95,
				Reasoning:  fmt.Sprintf("matched onboarding document %s", entry.Name()),
				Source:     SourceOnboarding,
				Timestamp:  time.Now().UTC(),
				Context:    ctxData,
			}
		}
	}
	return nil
}

// tokenize lowercases and returns words of length >= 4.
func tokenize(question string) []string {
	var tokens []string
	scanner := bufio.NewScanner(strings.NewReader(question))
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		w := strings.ToLower(strings.Trim(scanner.Text(), ".,!?;:()\"'"))
		if len(w) >= 4 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

type llmResponse struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// llmReasoning calls the LLM once and calibrates its confidence.
func (e *Engine) llmReasoning(ctx context.Context, question string, ctxData map[string]any) (*Decision, error) {
	serialized, err := json.Marshal(ctxData)
	if err != nil {
		serialized = []byte("{}")
	}

	prompt := fmt.Sprintf(
		"Respond with JSON with fields `decision`, `confidence` (0-1), `reasoning`.\nQuestion: %s\nContext: %s",
		question, string(serialized))

	raw, err := e.llm.Invoke(ctx, prompt, &llmclient.Options{Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	var confidence float64
	var reasoning string
	var parsed llmResponse
	if json.Unmarshal([]byte(raw), &parsed) == nil && parsed.Reasoning != "" {
		confidence = parsed.Confidence
		reasoning = parsed.Reasoning
	} else {
		confidence = baseConfidenceFromMarkers(raw)
		reasoning = raw
	}

	confidence = calibrate(confidence, reasoning)
	if confidence < EscalationThreshold {
		reasoning += fmt.Sprintf("%s %.2f below threshold %.2f]", EscalationSentinelPrefix, confidence, EscalationThreshold)
	}

	value := reasoning
	if parsed.Decision != "" {
		value = parsed.Decision
	}

	return &Decision{
		Question:   question,
		Value:      value,
		Confidence: confidence,
		Reasoning:  reasoning,
		Source:     SourceLLM,
		Timestamp:  time.Now().UTC(),
		Context:    ctxData,
	}, nil
}

// baseConfidenceFromMarkers derives a starting confidence in [0.3, 0.9] by
// counting certainty vs uncertainty markers in raw, unparseable LLM output.
func baseConfidenceFromMarkers(raw string) float64 {
	lower := strings.ToLower(raw)
	certain := countMarkers(lower, certaintyMarkers)
	uncertain := countMarkers(lower, uncertaintyMarkers)

	confidence := 0.6 + float64(certain)*0.1 - float64(uncertain)*0.1
	return clamp(confidence, 0.3, 0.9)
}

// calibrate adjusts confidence based on markers present in reasoning,
// clamped to [0.3, 0.9] for LLM-sourced decisions.
func calibrate(confidence float64, reasoning string) float64 {
	lower := strings.ToLower(reasoning)
	if countMarkers(lower, certaintyMarkers) > 0 {
		confidence += 0.05
	}
	if countMarkers(lower, uncertaintyMarkers) > 0 {
		confidence -= 0.05
	}
	return clamp(confidence, 0.3, 0.9)
}

func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
