package subagent

import (
	"sort"
	"strings"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// URLCitationLinker implements CitationLinker. It keeps only sources whose
// content actually survived extraction, deduplicates by normalized URL and
// orders by relevance so citation numbering is stable across identical runs.
type URLCitationLinker struct {
	MaxCitations int
}

func NewURLCitationLinker() *URLCitationLinker { return &URLCitationLinker{MaxCitations: 12} }

func (l *URLCitationLinker) Link(results []agent.SearchResult, docs []agent.Document) []agent.Citation {
	extracted := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			extracted[normalizeCitationURL(d.URL)] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(results))
	var out []agent.Citation
	for _, r := range results {
		key := normalizeCitationURL(r.URL)
		if key == "" {
			continue
		}
		if _, ok := extracted[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, agent.Citation{
			SourceURL:   r.URL,
			Title:       r.Title,
			Snippet:     r.Snippet,
			Relevance:   r.Relevance,
			RetrievedAt: r.RetrievedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].SourceURL < out[j].SourceURL
	})

	limit := l.MaxCitations
	if limit <= 0 {
		limit = 12
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalizeCitationURL(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")
	return strings.TrimSuffix(raw, "/")
}
