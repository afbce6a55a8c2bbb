package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/provider"
	openai_provider "github.com/Samrat2803/cognitive-core/provider/openai"
)

// LLMAnalyzer implements Analyzer on top of a chat completion provider.
type LLMAnalyzer struct {
	llm provider.Provider
}

func NewLLMAnalyzer(llm provider.Provider) *LLMAnalyzer { return &LLMAnalyzer{llm: llm} }

const analyzeSystem = `You break a research question into a machine-usable plan.
Respond with a single JSON object:
{"topic": "...", "subtopics": ["..."], "wants_sentiment": bool, "time_sensitive": bool}
topic is the core subject in at most 6 words. subtopics (max 3) only when the
question genuinely spans facets. wants_sentiment is true when the question asks
about opinion, perception or sentiment. time_sensitive is true for current events.`

func (a *LLMAnalyzer) Analyze(ctx context.Context, q agent.Query) (agent.Analysis, error) {
	raw, err := a.llm.Complete(ctx, analyzeSystem, q.Text)
	if err != nil {
		return agent.Analysis{}, classifyLLMError("query_analysis", err)
	}
	var out agent.Analysis
	if err := decodeJSONReply(raw, &out); err != nil {
		return agent.Analysis{}, &agent.InvocationError{Agent: "query_analysis", Err: err}
	}
	out.Topic = strings.TrimSpace(out.Topic)
	if out.Topic == "" {
		out.Topic = strings.TrimSpace(q.Text)
	}
	return out, nil
}

// LLMSentimentScorer implements SentimentScorer via the completion provider.
type LLMSentimentScorer struct {
	llm provider.Provider
}

func NewLLMSentimentScorer(llm provider.Provider) *LLMSentimentScorer {
	return &LLMSentimentScorer{llm: llm}
}

const sentimentSystem = `You score the overall sentiment toward a topic across
the provided excerpts. Respond with a single JSON object:
{"positive": 0.0, "negative": 0.0, "neutral": 0.0}
The three values are fractions of the excerpts and must sum to 1.`

func (s *LLMSentimentScorer) Score(ctx context.Context, topic string, docs []agent.Document) (agent.SentimentDistribution, error) {
	if len(docs) == 0 {
		return agent.SentimentDistribution{}, &agent.InvocationError{Agent: "sentiment", Err: errors.New("no documents to score")}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\n", topic)
	for i, d := range docs {
		fmt.Fprintf(&sb, "Excerpt %d (%s):\n%s\n\n", i+1, d.URL, clip(d.Text, 1200))
	}
	raw, err := s.llm.Complete(ctx, sentimentSystem, sb.String())
	if err != nil {
		return agent.SentimentDistribution{}, classifyLLMError("sentiment", err)
	}
	var dist agent.SentimentDistribution
	if err := decodeJSONReply(raw, &dist); err != nil {
		return agent.SentimentDistribution{}, &agent.InvocationError{Agent: "sentiment", Err: err}
	}
	dist.Samples = len(docs)
	normalizeDistribution(&dist)
	return dist, nil
}

// LLMSynthesizer implements Synthesizer via the completion provider.
type LLMSynthesizer struct {
	llm provider.Provider
}

func NewLLMSynthesizer(llm provider.Provider) *LLMSynthesizer { return &LLMSynthesizer{llm: llm} }

const synthesisSystem = `You write a concise, sourced research summary. Use only
the provided excerpts; cite sources inline as [n] matching the citation list.
Prefer plain prose, 2-4 paragraphs. If sentiment figures are provided, state
them in one sentence.`

func (s *LLMSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	if len(in.Documents) == 0 {
		return "", &agent.InvocationError{Agent: "synthesis", Err: errors.New("no documents to synthesize")}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\nTopic: %s\n\n", in.Query, in.Topic)
	if in.Sentiment != nil {
		fmt.Fprintf(&sb, "Sentiment distribution: positive %.2f, negative %.2f, neutral %.2f (%d samples)\n\n",
			in.Sentiment.Positive, in.Sentiment.Negative, in.Sentiment.Neutral, in.Sentiment.Samples)
	}
	for i, c := range in.Citations {
		fmt.Fprintf(&sb, "[%d] %s — %s\n", i+1, c.Title, c.SourceURL)
	}
	sb.WriteString("\nExcerpts:\n")
	for i, d := range in.Documents {
		fmt.Fprintf(&sb, "--- %d: %s\n%s\n", i+1, d.URL, clip(d.Text, 1500))
	}
	text, err := s.llm.Complete(ctx, synthesisSystem, sb.String())
	if err != nil {
		return "", classifyLLMError("synthesis", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &agent.InvocationError{Agent: "synthesis", Err: errors.New("empty completion")}
	}
	return text, nil
}

// decodeJSONReply extracts the first JSON object from an LLM reply, tolerating
// markdown fences and surrounding prose.
func decodeJSONReply(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return fmt.Errorf("no JSON object in reply")
	}
	return json.Unmarshal([]byte(raw), out)
}

func classifyLLMError(agentName string, err error) error {
	var se *openai_provider.StatusError
	if errors.As(err, &se) && se.Retryable() {
		return &agent.TransientError{Agent: agentName, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &agent.TransientError{Agent: agentName, Err: err}
	}
	return &agent.InvocationError{Agent: agentName, Err: err}
}

func normalizeDistribution(d *agent.SentimentDistribution) {
	sum := d.Positive + d.Negative + d.Neutral
	if sum <= 0 {
		d.Neutral = 1
		return
	}
	d.Positive /= sum
	d.Negative /= sum
	d.Neutral /= sum
}

func clip(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}
