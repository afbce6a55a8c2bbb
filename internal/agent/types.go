package agent

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of one workflow execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// NodeStatus is the outcome of a single node execution.
type NodeStatus string

const (
	NodeOk       NodeStatus = "ok"
	NodeDegraded NodeStatus = "degraded"
	NodeFailed   NodeStatus = "failed"
)

// Query represents an accepted research question. Immutable once accepted.
type Query struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Analysis is the query_analysis node output: what the user is asking for.
type Analysis struct {
	Topic          string   `json:"topic"`
	Subtopics      []string `json:"subtopics,omitempty"`
	WantsSentiment bool     `json:"wants_sentiment"`
	TimeSensitive  bool     `json:"time_sensitive"`
}

// Simple reports whether the analysis can skip dedicated search planning:
// one topic, no subtopic expansion needed.
func (a Analysis) Simple() bool {
	return len(a.Subtopics) == 0 && len(strings.Fields(a.Topic)) <= 4
}

// SearchQuery is one planned search to run against the web search providers.
type SearchQuery struct {
	Text      string `json:"text"`
	Recency   string `json:"recency,omitempty"` // provider freshness hint
	MaxHits   int    `json:"max_hits,omitempty"`
}

// SearchResult is a single hit returned by a search provider.
// Results are deduplicated by URL within a run.
type SearchResult struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Provider    string    `json:"provider"`
	Relevance   float64   `json:"relevance"` // 0..1
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Document is the extracted readable content of one search result.
type Document struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Rendered bool   `json:"rendered"` // true when the crawler produced it
}

// Citation records a source referenced by the synthesis.
type Citation struct {
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Relevance   float64   `json:"relevance"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// SentimentDistribution is the scored distribution over extracted documents.
type SentimentDistribution struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Samples  int     `json:"samples"`
}

// ChartKind enumerates renderable artifact shapes.
type ChartKind string

const (
	ChartLine  ChartKind = "line"
	ChartBar   ChartKind = "bar"
	ChartPie   ChartKind = "pie"
	ChartTable ChartKind = "table"
)

// Artifact is a generated visual representation tied to a run. The chart
// specification itself lives in object storage; StorageRef resolves it.
type Artifact struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Topic      string    `json:"topic"`
	Kind       ChartKind `json:"kind"`
	StorageRef string    `json:"storage_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeResult is one entry in a run's append-only execution trace.
type NodeResult struct {
	Node       string      `json:"node"`
	Status     NodeStatus  `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Output     interface{} `json:"output,omitempty"` // node-specific payload
	Error      string      `json:"error,omitempty"`
}

// Invocation records one sub-agent call. Created per call, folded into the
// owning NodeResult, never persisted on its own.
type Invocation struct {
	Agent    string        `json:"agent"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Failed reports whether the invocation ultimately did not produce output.
func (i Invocation) Failed() bool { return i.Err != nil }

// RunState is the mutable accumulator threaded through the graph for one run.
// It is owned exclusively by the executing run goroutine; nodes fold their
// output in and append a NodeResult to Trace.
type RunState struct {
	Query      Query                  `json:"query"`
	Status     RunStatus              `json:"status"`
	Reason     string                 `json:"reason,omitempty"` // terminal failure reason
	Trace      []NodeResult           `json:"trace"`
	Analysis   Analysis               `json:"analysis"`
	Planned    []SearchQuery          `json:"planned_queries,omitempty"`
	Results    []SearchResult         `json:"results,omitempty"`
	Documents  []Document             `json:"documents,omitempty"`
	Citations  []Citation             `json:"citations,omitempty"`
	Sentiment  *SentimentDistribution `json:"sentiment,omitempty"`
	Synthesis  string                 `json:"synthesis,omitempty"`
	Artifacts  []Artifact             `json:"artifacts,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
}

// NewRunState creates the state for an accepted query.
func NewRunState(q Query) *RunState {
	return &RunState{Query: q, Status: RunRunning, StartedAt: time.Now().UTC()}
}

// Append records a node execution on the trace. Results are appended, never
// mutated afterwards.
func (rs *RunState) Append(nr NodeResult) {
	rs.Trace = append(rs.Trace, nr)
}

// AddResults merges search hits into the run, deduplicating by normalized URL
// and keeping the hit with the higher relevance.
func (rs *RunState) AddResults(hits []SearchResult) {
	byURL := make(map[string]int, len(rs.Results))
	for i, r := range rs.Results {
		byURL[normalizeURL(r.URL)] = i
	}
	for _, h := range hits {
		key := normalizeURL(h.URL)
		if key == "" {
			continue
		}
		if i, ok := byURL[key]; ok {
			if h.Relevance > rs.Results[i].Relevance {
				rs.Results[i] = h
			}
			continue
		}
		byURL[key] = len(rs.Results)
		rs.Results = append(rs.Results, h)
	}
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")
	return strings.TrimSuffix(raw, "/")
}
