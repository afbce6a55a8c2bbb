package graph

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/internal/agent/artifact"
	"github.com/Samrat2803/cognitive-core/internal/agent/subagent"
	"github.com/Samrat2803/cognitive-core/internal/stream"
	"github.com/Samrat2803/cognitive-core/internal/telemetry"
)

type stubAnalyzer struct {
	analysis agent.Analysis
	err      error
}

func (s stubAnalyzer) Analyze(ctx context.Context, q agent.Query) (agent.Analysis, error) {
	return s.analysis, s.err
}

type stubSearcher struct {
	name string
	hits []agent.SearchResult
	err  error
}

func (s stubSearcher) Name() string { return s.name }
func (s stubSearcher) Search(ctx context.Context, q agent.SearchQuery) ([]agent.SearchResult, error) {
	return s.hits, s.err
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(ctx context.Context, r agent.SearchResult) (agent.Document, error) {
	if s.err != nil {
		return agent.Document{}, s.err
	}
	return agent.Document{URL: r.URL, Title: r.Title, Text: s.text}, nil
}

type stubScorer struct {
	dist agent.SentimentDistribution
	err  error
}

func (s stubScorer) Score(ctx context.Context, topic string, docs []agent.Document) (agent.SentimentDistribution, error) {
	return s.dist, s.err
}

type stubSynthesizer struct {
	text string
	err  error
}

func (s stubSynthesizer) Synthesize(ctx context.Context, in subagent.SynthesisInput) (string, error) {
	return s.text, s.err
}

type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{data: make(map[string][]byte)} }

func (m *memBlob) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type memStore struct {
	mu   sync.Mutex
	runs map[string]*agent.RunState
	done chan string
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]*agent.RunState), done: make(chan string, 8)}
}

func (m *memStore) SaveRun(_ context.Context, rs *agent.RunState) error {
	m.mu.Lock()
	m.runs[rs.Query.ID] = rs
	m.mu.Unlock()
	m.done <- rs.Query.ID
	return nil
}

func (m *memStore) get(runID string) *agent.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID]
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		RunCeiling:         5 * time.Second,
		InvocationTimeout:  time.Second,
		MaxRetries:         0,
		RetryBackoff:       time.Millisecond,
		RelevanceThreshold: 0.4,
		MinDocumentChars:   10,
		MaxSearchResults:   20,
	}
}

func testHits(urls ...string) []agent.SearchResult {
	out := make([]agent.SearchResult, 0, len(urls))
	for i, u := range urls {
		out = append(out, agent.SearchResult{
			URL:       u,
			Title:     "title " + u,
			Snippet:   "snippet",
			Relevance: 0.9 - float64(i)*0.05,
		})
	}
	return out
}

func newTestEngine(t *testing.T, deps PipelineDeps, st HistoryStore) (*Engine, *stream.Dispatcher) {
	t.Helper()
	if deps.Planner == nil {
		deps.Planner = subagent.NewQueryPlanner()
	}
	if deps.Citations == nil {
		deps.Citations = subagent.NewURLCitationLinker()
	}
	if deps.Artifacts == nil {
		deps.Artifacts = artifact.NewGenerator(newMemBlob())
	}
	dispatcher := stream.NewDispatcher(64, 64)
	pipeline := NewPipeline(testEngineConfig(), deps)
	engine, err := NewEngine(testEngineConfig(), pipeline.Graph(), dispatcher, st, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, dispatcher
}

func waitRun(t *testing.T, st *memStore) *agent.RunState {
	t.Helper()
	select {
	case id := <-st.done:
		return st.get(id)
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish")
		return nil
	}
}

func TestRunWithSentimentCompletes(t *testing.T) {
	st := newMemStore()
	engine, dispatcher := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "carbon tax", WantsSentiment: true}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", hits: testHits("https://a.example/1", "https://b.example/2")},
		},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Sentiment: stubScorer{dist: agent.SentimentDistribution{Positive: 0.5, Negative: 0.3, Neutral: 0.2, Samples: 2}},
		Synth:     stubSynthesizer{text: "Public reception is mixed [1][2]."},
	}, st)

	runID, err := engine.Submit("public sentiment on the new carbon tax")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch, cancel, err := dispatcher.Subscribe(runID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	rs := waitRun(t, st)
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed", rs.Status, rs.Reason)
	}

	wantTrace := []string{
		NodeQueryAnalysis, NodeSearchPlanning, NodeWebSearch,
		NodeContentExtraction, NodeSentimentCitation, NodeSynthesis, NodeAssemble,
	}
	if len(rs.Trace) != len(wantTrace) {
		t.Fatalf("trace length = %d, want %d (%+v)", len(rs.Trace), len(wantTrace), rs.Trace)
	}
	for i, want := range wantTrace {
		if rs.Trace[i].Node != want {
			t.Fatalf("trace[%d] = %s, want %s", i, rs.Trace[i].Node, want)
		}
		if rs.Trace[i].Status != agent.NodeOk {
			t.Fatalf("trace[%d] status = %s, want ok", i, rs.Trace[i].Status)
		}
	}
	if rs.Synthesis == "" {
		t.Fatalf("synthesis is empty")
	}
	if len(rs.Citations) == 0 {
		t.Fatalf("no citations linked")
	}
	if len(rs.Artifacts) != 1 || rs.Artifacts[0].Kind != agent.ChartPie {
		t.Fatalf("artifacts = %+v, want one pie chart", rs.Artifacts)
	}

	var lastSeq uint64
	var sawTerminal bool
	var sawArtifact bool
	for evt := range ch {
		if evt.Seq != lastSeq+1 {
			t.Fatalf("sequence gap: got %d after %d", evt.Seq, lastSeq)
		}
		lastSeq = evt.Seq
		switch evt.Kind {
		case stream.ArtifactReady:
			sawArtifact = true
		case stream.RunCompleted:
			sawTerminal = true
		case stream.RunFailed, stream.RunCancelled:
			t.Fatalf("unexpected terminal kind %s", evt.Kind)
		}
	}
	if !sawTerminal {
		t.Fatalf("stream closed without run_completed")
	}
	if !sawArtifact {
		t.Fatalf("stream closed without artifact_ready")
	}
}

func TestSimpleQuerySkipsPlanningAndSentiment(t *testing.T) {
	st := newMemStore()
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "go generics"}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", hits: testHits("https://a.example/1", "https://b.example/2")},
		},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Synth:     stubSynthesizer{text: "Generics landed in Go 1.18 [1]."},
	}, st)

	if _, err := engine.Submit("go generics"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed", rs.Status, rs.Reason)
	}
	for _, nr := range rs.Trace {
		if nr.Node == NodeSearchPlanning || nr.Node == NodeSentimentCitation {
			t.Fatalf("node %s should have been skipped", nr.Node)
		}
	}
	if len(rs.Citations) == 0 {
		t.Fatalf("citations should be linked even without the sentiment pass")
	}
	if rs.Sentiment != nil {
		t.Fatalf("sentiment should be unset, got %+v", rs.Sentiment)
	}
}

func TestPartialSearchFailureDegradesNode(t *testing.T) {
	st := newMemStore()
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "fusion power"}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", hits: testHits("https://a.example/1")},
			stubSearcher{name: "serper_search", err: &agent.InvocationError{Agent: "serper_search", Err: context.DeadlineExceeded}},
		},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Synth:     stubSynthesizer{text: "Progress continues [1]."},
	}, st)

	if _, err := engine.Submit("fusion power"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed despite one provider down", rs.Status, rs.Reason)
	}
	for _, nr := range rs.Trace {
		if nr.Node == NodeWebSearch && nr.Status != agent.NodeDegraded {
			t.Fatalf("web_search status = %s, want degraded", nr.Status)
		}
	}
}

func TestAllSearchesFailFailsRun(t *testing.T) {
	st := newMemStore()
	engine, dispatcher := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "nothing findable"}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", err: &agent.InvocationError{Agent: "brave_search", Err: context.DeadlineExceeded}},
		},
		Extractor: stubExtractor{text: "unused"},
		Synth:     stubSynthesizer{text: "unused"},
	}, st)

	runID, err := engine.Submit("nothing findable")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch, cancel, err := dispatcher.Subscribe(runID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	rs := waitRun(t, st)
	if rs.Status != agent.RunFailed {
		t.Fatalf("status = %s, want failed", rs.Status)
	}
	if !strings.Contains(rs.Reason, "insufficient data") {
		t.Fatalf("reason = %q, want insufficient data", rs.Reason)
	}

	sawFailed := false
	for evt := range ch {
		if evt.Kind == stream.RunFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatalf("stream closed without run_failed")
	}
}

func TestDegradedSynthesisStillCompletes(t *testing.T) {
	st := newMemStore()
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "battery recycling"}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", hits: testHits("https://a.example/1", "https://b.example/2")},
		},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Synth:     stubSynthesizer{err: &agent.InvocationError{Agent: "llm_synthesizer", Err: context.DeadlineExceeded}},
	}, st)

	if _, err := engine.Submit("battery recycling"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed on extractive fallback", rs.Status, rs.Reason)
	}
	if rs.Synthesis == "" {
		t.Fatalf("extractive fallback produced no text")
	}
	for _, nr := range rs.Trace {
		if nr.Node == NodeSynthesis && nr.Status != agent.NodeDegraded {
			t.Fatalf("synthesis status = %s, want degraded", nr.Status)
		}
	}
}

func TestCancelBeforeFirstNode(t *testing.T) {
	st := newMemStore()
	engine, dispatcher := newTestEngine(t, PipelineDeps{
		Analyzer:  stubAnalyzer{analysis: agent.Analysis{Topic: "anything"}},
		Searchers: []subagent.Searcher{stubSearcher{name: "brave_search", hits: testHits("https://a.example/1")}},
		Extractor: stubExtractor{text: "unused"},
		Synth:     stubSynthesizer{text: "unused"},
	}, st)

	q := agent.Query{ID: "run-cancel-early", Text: "anything", SubmittedAt: time.Now().UTC()}
	h := &runHandle{query: q}
	h.cancelled.Store(true)
	engine.mu.Lock()
	engine.runs[q.ID] = h
	engine.mu.Unlock()
	dispatcher.Register(q.ID)

	engine.execute(h)

	rs := waitRun(t, st)
	if rs.Status != agent.RunCancelled {
		t.Fatalf("status = %s, want cancelled", rs.Status)
	}
	if len(rs.Trace) != 0 {
		t.Fatalf("trace should be empty, got %d entries", len(rs.Trace))
	}

	ch, _, err := dispatcher.Subscribe(q.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	evt, open := <-ch
	if !open || evt.Kind != stream.RunCancelled {
		t.Fatalf("first event = %+v (open=%v), want run_cancelled", evt, open)
	}
}

func TestRunCeilingForcesTimeout(t *testing.T) {
	st := newMemStore()
	dispatcher := stream.NewDispatcher(16, 16)

	g := NewGraph("slow")
	g.AddNode("slow", func(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return agent.NodeResult{Node: "slow", Status: agent.NodeOk}, nil
	})

	cfg := testEngineConfig()
	cfg.RunCeiling = 20 * time.Millisecond
	engine, err := NewEngine(cfg, g, dispatcher, st, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Submit("too slow"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunFailed {
		t.Fatalf("status = %s, want failed", rs.Status)
	}
	if rs.Reason != agent.ErrRunTimeout.Error() {
		t.Fatalf("reason = %q, want %q", rs.Reason, agent.ErrRunTimeout.Error())
	}
}

func TestCancelDuringRun(t *testing.T) {
	st := newMemStore()
	dispatcher := stream.NewDispatcher(16, 16)

	started := make(chan struct{})
	g := NewGraph("first")
	g.AddNode("first", func(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
		close(started)
		<-ctx.Done()
		return agent.NodeResult{Node: "first", Status: agent.NodeOk}, nil
	})
	g.AddNode("second", func(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
		t.Error("second node ran after cancellation")
		return agent.NodeResult{Node: "second", Status: agent.NodeOk}, nil
	})
	g.AddEdge("first", "second", nil)

	engine, err := NewEngine(testEngineConfig(), g, dispatcher, st, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	runID, err := engine.Submit("cancel me")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := engine.Cancel(runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunCancelled {
		t.Fatalf("status = %s, want cancelled", rs.Status)
	}
	if err := engine.Cancel(runID); err == nil {
		t.Fatalf("Cancel after finish should report unknown run")
	}
}

func TestAssembleRecordsArtifactMetric(t *testing.T) {
	tel := telemetry.New()
	st := newMemStore()
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer: stubAnalyzer{analysis: agent.Analysis{Topic: "carbon tax", WantsSentiment: true}},
		Searchers: []subagent.Searcher{
			stubSearcher{name: "brave_search", hits: testHits("https://a.example/1")},
		},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Sentiment: stubScorer{dist: agent.SentimentDistribution{Positive: 0.6, Negative: 0.4, Samples: 1}},
		Synth:     stubSynthesizer{text: "Mixed reception [1]."},
		Telemetry: tel,
	}, st)

	if _, err := engine.Submit("public sentiment on the new carbon tax"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rs := waitRun(t, st)
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed", rs.Status, rs.Reason)
	}

	fams, err := tel.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	for _, f := range fams {
		if f.GetName() != "cogcore_artifacts_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == string(agent.ChartPie) {
					got = m.GetCounter().GetValue()
				}
			}
		}
	}
	if got != 1 {
		t.Fatalf("artifacts counter for pie = %v, want 1", got)
	}
}

func TestExecuteReturnsTerminalState(t *testing.T) {
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer:  stubAnalyzer{analysis: agent.Analysis{Topic: "rail usage"}},
		Searchers: []subagent.Searcher{stubSearcher{name: "brave_search", hits: testHits("https://a.example/1")}},
		Extractor: stubExtractor{text: strings.Repeat("evidence text ", 20)},
		Synth:     stubSynthesizer{text: "Ridership recovered [1]."},
	}, nil)

	rs, err := engine.Execute(context.Background(), "rail usage trends")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rs.Status != agent.RunCompleted {
		t.Fatalf("status = %s (reason %q), want completed", rs.Status, rs.Reason)
	}
	if rs.Synthesis == "" {
		t.Fatalf("synthesis is empty")
	}
	if _, active := engine.Active(rs.Query.ID); active {
		t.Fatalf("run still active after Execute returned")
	}
}

func TestSubmitRejectsEmptyQuery(t *testing.T) {
	engine, _ := newTestEngine(t, PipelineDeps{
		Analyzer:  stubAnalyzer{},
		Searchers: []subagent.Searcher{stubSearcher{name: "brave_search"}},
		Extractor: stubExtractor{},
		Synth:     stubSynthesizer{},
	}, nil)
	if _, err := engine.Submit("   "); err != ErrEmptyQuery {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}
