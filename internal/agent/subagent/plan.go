package subagent

import (
	"context"
	"strings"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// QueryPlanner expands an analysis into concrete search queries. Expansion is
// deterministic so plans are reproducible for identical analyses.
type QueryPlanner struct {
	MaxQueries int
}

func NewQueryPlanner() *QueryPlanner { return &QueryPlanner{MaxQueries: 5} }

func (p *QueryPlanner) PlanQueries(ctx context.Context, a agent.Analysis) ([]agent.SearchQuery, error) {
	topic := strings.TrimSpace(a.Topic)
	if topic == "" {
		return nil, &agent.InvocationError{Agent: "query_planner", Err: agent.ErrInsufficientData}
	}

	recency := ""
	if a.TimeSensitive {
		recency = "pw" // past week
	}

	queries := []agent.SearchQuery{{Text: topic, Recency: recency}}
	if a.WantsSentiment {
		queries = append(queries, agent.SearchQuery{Text: "public opinion on " + topic, Recency: recency})
	}
	for _, sub := range a.Subtopics {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		queries = append(queries, agent.SearchQuery{Text: topic + " " + sub, Recency: recency})
	}

	limit := p.MaxQueries
	if limit <= 0 {
		limit = 5
	}
	if len(queries) > limit {
		queries = queries[:limit]
	}
	return dedupeQueries(queries), nil
}

func dedupeQueries(in []agent.SearchQuery) []agent.SearchQuery {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, q := range in {
		key := strings.ToLower(strings.Join(strings.Fields(q.Text), " "))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}
