// Package subagent normalizes the specialized capabilities behind fixed,
// typed contracts so the graph engine never special-cases one of them.
// Sub-agents are stateless between calls; all continuity lives in RunState,
// which sub-agents never touch -- they only return data for the calling node
// to fold in.
package subagent

import (
	"context"
	"time"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// Planner expands an analyzed query into concrete searches.
type Planner interface {
	PlanQueries(ctx context.Context, a agent.Analysis) ([]agent.SearchQuery, error)
}

// Searcher runs one planned query against a web search backend.
type Searcher interface {
	Name() string
	Search(ctx context.Context, q agent.SearchQuery) ([]agent.SearchResult, error)
}

// Extractor turns one search result into readable text.
type Extractor interface {
	Extract(ctx context.Context, r agent.SearchResult) (agent.Document, error)
}

// Crawler fetches a fully rendered page; used when static extraction comes
// back too thin.
type Crawler interface {
	Crawl(ctx context.Context, url string) (agent.Document, error)
}

// Analyzer interprets the raw query text.
type Analyzer interface {
	Analyze(ctx context.Context, q agent.Query) (agent.Analysis, error)
}

// SentimentScorer scores a sentiment distribution over documents.
type SentimentScorer interface {
	Score(ctx context.Context, topic string, docs []agent.Document) (agent.SentimentDistribution, error)
}

// CitationLinker selects and normalizes the sources backing the synthesis.
type CitationLinker interface {
	Link(results []agent.SearchResult, docs []agent.Document) []agent.Citation
}

// Synthesizer writes the final answer from the accumulated evidence.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (string, error)
}

// SynthesisInput is the declared input shape for the synthesis capability.
type SynthesisInput struct {
	Query     string
	Topic     string
	Documents []agent.Document
	Citations []agent.Citation
	Sentiment *agent.SentimentDistribution
}

// Retrier applies the uniform invocation contract: per-call timeout, bounded
// retries with exponential backoff on transient errors, attempt accounting.
type Retrier struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Invoke runs fn under the contract and returns the invocation record. The
// record's Err is nil on success, the last error otherwise.
func (r Retrier) Invoke(ctx context.Context, name string, fn func(context.Context) error) (inv agent.Invocation) {
	inv.Agent = name
	start := time.Now()
	defer func() { inv.Duration = time.Since(start) }()

	backoff := r.Backoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		inv.Attempts = attempt + 1

		callCtx := ctx
		var cancel context.CancelFunc
		if r.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			inv.Err = nil
			return inv
		}
		inv.Err = err

		if !agent.IsTransient(err) || attempt >= r.MaxRetries {
			return inv
		}
		select {
		case <-time.After(backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			inv.Err = ctx.Err()
			return inv
		}
	}
}
