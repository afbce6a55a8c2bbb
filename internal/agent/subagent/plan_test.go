package subagent

import (
	"context"
	"testing"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

func TestPlanQueriesExpandsSentimentAndSubtopics(t *testing.T) {
	p := NewQueryPlanner()
	qs, err := p.PlanQueries(context.Background(), agent.Analysis{
		Topic:          "carbon tax",
		Subtopics:      []string{"industry impact", "household cost"},
		WantsSentiment: true,
	})
	if err != nil {
		t.Fatalf("PlanQueries: %v", err)
	}
	want := []string{
		"carbon tax",
		"public opinion on carbon tax",
		"carbon tax industry impact",
		"carbon tax household cost",
	}
	if len(qs) != len(want) {
		t.Fatalf("planned %d queries, want %d: %+v", len(qs), len(want), qs)
	}
	for i, w := range want {
		if qs[i].Text != w {
			t.Fatalf("query[%d] = %q, want %q", i, qs[i].Text, w)
		}
	}
}

func TestPlanQueriesSetsRecencyWhenTimeSensitive(t *testing.T) {
	p := NewQueryPlanner()
	qs, err := p.PlanQueries(context.Background(), agent.Analysis{
		Topic:         "rate decision",
		TimeSensitive: true,
	})
	if err != nil {
		t.Fatalf("PlanQueries: %v", err)
	}
	for _, q := range qs {
		if q.Recency != "pw" {
			t.Fatalf("recency = %q, want pw", q.Recency)
		}
	}
}

func TestPlanQueriesIsDeterministic(t *testing.T) {
	p := NewQueryPlanner()
	a := agent.Analysis{Topic: "carbon tax", Subtopics: []string{"revenue"}, WantsSentiment: true}

	first, err := p.PlanQueries(context.Background(), a)
	if err != nil {
		t.Fatalf("PlanQueries: %v", err)
	}
	second, err := p.PlanQueries(context.Background(), a)
	if err != nil {
		t.Fatalf("PlanQueries: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("plans differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("plans diverge at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPlanQueriesDeduplicates(t *testing.T) {
	p := NewQueryPlanner()
	qs, err := p.PlanQueries(context.Background(), agent.Analysis{
		Topic:     "carbon tax",
		Subtopics: []string{"", "  "},
	})
	if err != nil {
		t.Fatalf("PlanQueries: %v", err)
	}
	if len(qs) != 1 || qs[0].Text != "carbon tax" {
		t.Fatalf("queries = %+v, want just the topic", qs)
	}
}

func TestPlanQueriesRejectsEmptyTopic(t *testing.T) {
	p := NewQueryPlanner()
	if _, err := p.PlanQueries(context.Background(), agent.Analysis{Topic: "  "}); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}
