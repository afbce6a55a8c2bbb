package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// BraveSearcher implements Searcher using the Brave Search API.
type BraveSearcher struct {
	cfg  config.SearchConfig
	http *HTTPClient
}

func NewBraveSearcher(cfg config.SearchConfig, httpc *HTTPClient) *BraveSearcher {
	return &BraveSearcher{cfg: cfg, http: httpc}
}

func (b *BraveSearcher) Name() string { return "brave_search" }

func (b *BraveSearcher) Search(ctx context.Context, q agent.SearchQuery) ([]agent.SearchResult, error) {
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.cfg.BraveAPIKey}
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		escapeQuery(q.Text), maxHits(q, b.cfg.MaxResults))
	if q.Recency != "" {
		url += "&freshness=" + q.Recency
	}
	if err := b.http.DoJSON(ctx, b.Name(), "GET", url, headers, nil, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]agent.SearchResult, 0, len(resp.Web.Results))
	for i, r := range resp.Web.Results {
		out = append(out, agent.SearchResult{
			URL: r.URL, Title: r.Title, Snippet: r.Description,
			Provider: b.Name(), Relevance: rankRelevance(i), RetrievedAt: now,
		})
	}
	return out, nil
}

// SerperSearcher implements Searcher using serper.dev.
type SerperSearcher struct {
	cfg  config.SearchConfig
	http *HTTPClient
}

func NewSerperSearcher(cfg config.SearchConfig, httpc *HTTPClient) *SerperSearcher {
	return &SerperSearcher{cfg: cfg, http: httpc}
}

func (s *SerperSearcher) Name() string { return "serper_search" }

func (s *SerperSearcher) Search(ctx context.Context, q agent.SearchQuery) ([]agent.SearchResult, error) {
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.cfg.SerperAPIKey}
	body := map[string]any{"q": q.Text, "num": maxHits(q, s.cfg.MaxResults)}
	if err := s.http.DoJSON(ctx, s.Name(), "POST", "https://google.serper.dev/search", headers, body, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]agent.SearchResult, 0, len(resp.Organic))
	for i, r := range resp.Organic {
		out = append(out, agent.SearchResult{
			URL: r.Link, Title: r.Title, Snippet: r.Snippet,
			Provider: s.Name(), Relevance: rankRelevance(i), RetrievedAt: now,
		})
	}
	return out, nil
}

// NewSearchers builds the configured search providers; at least one key must
// be present for the run to have any chance of succeeding.
func NewSearchers(cfg config.SearchConfig, httpc *HTTPClient) []Searcher {
	var out []Searcher
	if cfg.BraveAPIKey != "" {
		out = append(out, NewBraveSearcher(cfg, httpc))
	}
	if cfg.SerperAPIKey != "" {
		out = append(out, NewSerperSearcher(cfg, httpc))
	}
	return out
}

// rankRelevance derives a deterministic relevance score from result rank;
// neither provider exposes its own score.
func rankRelevance(rank int) float64 {
	score := 0.95 - 0.07*float64(rank)
	if score < 0.2 {
		score = 0.2
	}
	return score
}

func maxHits(q agent.SearchQuery, def int) int {
	if q.MaxHits > 0 {
		return q.MaxHits
	}
	if def > 0 {
		return def
	}
	return 10
}

func escapeQuery(q string) string { return strings.ReplaceAll(strings.TrimSpace(q), " ", "+") }
