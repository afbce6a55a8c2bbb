package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/internal/agent/artifact"
	"github.com/Samrat2803/cognitive-core/internal/agent/subagent"
	"github.com/Samrat2803/cognitive-core/internal/telemetry"
)

// Canonical node names. The topology over them is fixed at startup.
const (
	NodeQueryAnalysis     = "query_analysis"
	NodeSearchPlanning    = "search_planning"
	NodeWebSearch         = "web_search"
	NodeContentExtraction = "content_extraction"
	NodeSentimentCitation = "sentiment_citation"
	NodeSynthesis         = "synthesis"
	NodeAssemble          = "assemble"
)

// Pipeline wires the sub-agents into the seven pipeline nodes. One Pipeline
// serves all runs; per-run mutable state lives only in the RunState each node
// receives.
type Pipeline struct {
	cfg       config.EngineConfig
	analyzer  subagent.Analyzer
	planner   subagent.Planner
	searchers []subagent.Searcher
	extractor subagent.Extractor
	crawler   subagent.Crawler // nil when the rendered-page fallback is disabled
	sentiment subagent.SentimentScorer
	citations subagent.CitationLinker
	synth     subagent.Synthesizer
	artifacts *artifact.Generator
	retrier   subagent.Retrier
	tel       *telemetry.Telemetry
	logger    *log.Logger
}

// PipelineDeps collects the collaborators a Pipeline needs.
type PipelineDeps struct {
	Analyzer  subagent.Analyzer
	Planner   subagent.Planner
	Searchers []subagent.Searcher
	Extractor subagent.Extractor
	Crawler   subagent.Crawler
	Sentiment subagent.SentimentScorer
	Citations subagent.CitationLinker
	Synth     subagent.Synthesizer
	Artifacts *artifact.Generator
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// NewPipeline builds the node set from configuration and collaborators.
func NewPipeline(cfg config.EngineConfig, deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		analyzer:  deps.Analyzer,
		planner:   deps.Planner,
		searchers: deps.Searchers,
		extractor: deps.Extractor,
		crawler:   deps.Crawler,
		sentiment: deps.Sentiment,
		citations: deps.Citations,
		synth:     deps.Synth,
		artifacts: deps.Artifacts,
		retrier: subagent.Retrier{
			Timeout:    cfg.InvocationTimeout,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		},
		tel:    deps.Telemetry,
		logger: logger,
	}
}

// Graph assembles the canonical topology. Edges are evaluated in order; the
// last edge of each node is the unconditional fallback.
func (p *Pipeline) Graph() *Graph {
	g := NewGraph(NodeQueryAnalysis)

	g.AddNode(NodeQueryAnalysis, p.queryAnalysis)
	g.AddNode(NodeSearchPlanning, p.searchPlanning)
	g.AddNode(NodeWebSearch, p.webSearch)
	g.AddNode(NodeContentExtraction, p.contentExtraction)
	g.AddNode(NodeSentimentCitation, p.sentimentCitation)
	g.AddNode(NodeSynthesis, p.synthesis)
	g.AddNode(NodeAssemble, p.assemble)

	// A simple single-topic question needs no dedicated planning pass; the
	// search node falls back to the topic itself.
	g.AddEdge(NodeQueryAnalysis, NodeWebSearch, func(rs *agent.RunState) bool {
		return rs.Analysis.Simple() && !rs.Analysis.WantsSentiment
	})
	g.AddEdge(NodeQueryAnalysis, NodeSearchPlanning, nil)

	g.AddEdge(NodeSearchPlanning, NodeWebSearch, nil)
	g.AddEdge(NodeWebSearch, NodeContentExtraction, nil)

	g.AddEdge(NodeContentExtraction, NodeSentimentCitation, func(rs *agent.RunState) bool {
		return rs.Analysis.WantsSentiment
	})
	g.AddEdge(NodeContentExtraction, NodeSynthesis, nil)

	g.AddEdge(NodeSentimentCitation, NodeSynthesis, nil)
	g.AddEdge(NodeSynthesis, NodeAssemble, nil)
	// assemble is terminal

	return g
}

type planOutput struct {
	Queries int `json:"queries"`
}

type searchOutput struct {
	Queries   int `json:"queries"`
	Providers int `json:"providers"`
	Hits      int `json:"hits"`
	Failures  int `json:"failures"`
}

type extractOutput struct {
	Attempted int `json:"attempted"`
	Extracted int `json:"extracted"`
	Crawled   int `json:"crawled"`
	Failures  int `json:"failures"`
}

type sentimentOutput struct {
	Sentiment *agent.SentimentDistribution `json:"sentiment,omitempty"`
	Citations int                          `json:"citations"`
}

type synthesisOutput struct {
	Chars     int  `json:"chars"`
	Citations int  `json:"citations"`
	Extracted bool `json:"extractive_fallback,omitempty"`
}

type assembleOutput struct {
	Artifacts int    `json:"artifacts"`
	Kind      string `json:"kind,omitempty"`
}

func (p *Pipeline) result(node string, started time.Time, status agent.NodeStatus, output interface{}, err error) agent.NodeResult {
	nr := agent.NodeResult{
		Node:       node,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Output:     output,
	}
	if err != nil {
		nr.Error = err.Error()
	}
	if p.tel != nil {
		p.tel.RecordNode(node, string(status), nr.FinishedAt.Sub(started))
	}
	return nr
}

func (p *Pipeline) recordInvocation(inv agent.Invocation) {
	if p.tel == nil {
		return
	}
	outcome := "ok"
	if inv.Failed() {
		outcome = "error"
	}
	p.tel.RecordInvocation(inv.Agent, outcome)
}

// queryAnalysis interprets the raw question. An analyzer failure never fails
// the run: a keyword heuristic stands in and the node degrades.
func (p *Pipeline) queryAnalysis(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	var analysis agent.Analysis
	inv := p.retrier.Invoke(ctx, "llm_analyzer", func(ctx context.Context) error {
		a, err := p.analyzer.Analyze(ctx, rs.Query)
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	p.recordInvocation(inv)

	if inv.Failed() {
		p.logger.Printf("[GRAPH] run %s: analyzer failed after %d attempts, using heuristic: %v",
			rs.Query.ID, inv.Attempts, inv.Err)
		rs.Analysis = heuristicAnalysis(rs.Query.Text)
		return p.result(NodeQueryAnalysis, started, agent.NodeDegraded, rs.Analysis, inv.Err), nil
	}
	if strings.TrimSpace(analysis.Topic) == "" {
		analysis.Topic = strings.TrimSpace(rs.Query.Text)
	}
	rs.Analysis = analysis
	return p.result(NodeQueryAnalysis, started, agent.NodeOk, rs.Analysis, nil), nil
}

func heuristicAnalysis(text string) agent.Analysis {
	lower := strings.ToLower(text)
	return agent.Analysis{
		Topic: strings.TrimSpace(text),
		WantsSentiment: strings.Contains(lower, "sentiment") ||
			strings.Contains(lower, "opinion") ||
			strings.Contains(lower, "reaction"),
		TimeSensitive: strings.Contains(lower, "latest") ||
			strings.Contains(lower, "recent") ||
			strings.Contains(lower, "today") ||
			strings.Contains(lower, "this week"),
	}
}

// searchPlanning expands the analysis into concrete searches. The expansion
// is deterministic; on failure the topic alone is searched and the node
// degrades.
func (p *Pipeline) searchPlanning(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	var planned []agent.SearchQuery
	inv := p.retrier.Invoke(ctx, "query_planner", func(ctx context.Context) error {
		qs, err := p.planner.PlanQueries(ctx, rs.Analysis)
		if err != nil {
			return err
		}
		planned = qs
		return nil
	})
	p.recordInvocation(inv)

	if inv.Failed() || len(planned) == 0 {
		rs.Planned = []agent.SearchQuery{{Text: rs.Analysis.Topic}}
		return p.result(NodeSearchPlanning, started, agent.NodeDegraded, planOutput{Queries: 1}, inv.Err), nil
	}
	rs.Planned = planned
	return p.result(NodeSearchPlanning, started, agent.NodeOk, planOutput{Queries: len(planned)}, nil), nil
}

// webSearch fans the planned queries out across every configured provider and
// joins on all of them. Partial provider failure degrades the node; zero hits
// overall fails the run for lack of data.
func (p *Pipeline) webSearch(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	queries := rs.Planned
	if len(queries) == 0 {
		// query_analysis routed here directly for a simple question
		queries = []agent.SearchQuery{{Text: rs.Analysis.Topic}}
		if rs.Analysis.TimeSensitive {
			queries[0].Recency = "pw"
		}
	}
	if len(p.searchers) == 0 {
		err := fmt.Errorf("no search providers configured: %w", agent.ErrInsufficientData)
		return p.result(NodeWebSearch, started, agent.NodeFailed, searchOutput{Queries: len(queries)}, err), err
	}

	type searchJob struct {
		searcher subagent.Searcher
		query    agent.SearchQuery
	}
	jobs := make([]searchJob, 0, len(queries)*len(p.searchers))
	for _, q := range queries {
		for _, s := range p.searchers {
			jobs = append(jobs, searchJob{searcher: s, query: q})
		}
	}

	batches := make([][]agent.SearchResult, len(jobs))
	invs := make([]agent.Invocation, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job searchJob) {
			defer wg.Done()
			invs[i] = p.retrier.Invoke(ctx, job.searcher.Name(), func(ctx context.Context) error {
				hits, err := job.searcher.Search(ctx, job.query)
				if err != nil {
					return err
				}
				batches[i] = hits
				return nil
			})
		}(i, job)
	}
	wg.Wait()

	failures := 0
	for i, inv := range invs {
		p.recordInvocation(inv)
		if inv.Failed() {
			failures++
			p.logger.Printf("[GRAPH] run %s: %s failed (%d attempts): %v",
				rs.Query.ID, inv.Agent, inv.Attempts, inv.Err)
			continue
		}
		rs.AddResults(batches[i])
	}
	capResults(rs, p.cfg.MaxSearchResults)

	out := searchOutput{
		Queries:   len(queries),
		Providers: len(p.searchers),
		Hits:      len(rs.Results),
		Failures:  failures,
	}
	if len(rs.Results) == 0 {
		err := fmt.Errorf("all searches empty or failed: %w", agent.ErrInsufficientData)
		return p.result(NodeWebSearch, started, agent.NodeFailed, out, err), err
	}
	if failures > 0 {
		return p.result(NodeWebSearch, started, agent.NodeDegraded, out, nil), nil
	}
	return p.result(NodeWebSearch, started, agent.NodeOk, out, nil), nil
}

// capResults keeps the best max results by relevance, stable on URL for ties.
func capResults(rs *agent.RunState, max int) {
	sort.SliceStable(rs.Results, func(i, j int) bool {
		if rs.Results[i].Relevance != rs.Results[j].Relevance {
			return rs.Results[i].Relevance > rs.Results[j].Relevance
		}
		return rs.Results[i].URL < rs.Results[j].URL
	})
	if max > 0 && len(rs.Results) > max {
		rs.Results = rs.Results[:max]
	}
}

// contentExtraction fans out static extraction over the ranked results,
// escalating individual results to the rendered crawler when the static pass
// comes back too thin or the hit ranked below the relevance threshold.
func (p *Pipeline) contentExtraction(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	type extractDone struct {
		doc     agent.Document
		crawled bool
		ok      bool
	}
	dones := make([]extractDone, len(rs.Results))
	invs := make([]agent.Invocation, len(rs.Results))
	var wg sync.WaitGroup
	for i, r := range rs.Results {
		wg.Add(1)
		go func(i int, r agent.SearchResult) {
			defer wg.Done()
			var doc agent.Document
			inv := p.retrier.Invoke(ctx, "readability_extractor", func(ctx context.Context) error {
				d, err := p.extractor.Extract(ctx, r)
				if err != nil {
					return err
				}
				doc = d
				return nil
			})
			thin := len(doc.Text) < p.cfg.MinDocumentChars
			lowRank := r.Relevance < p.cfg.RelevanceThreshold
			crawled := false
			if (inv.Failed() || thin || lowRank) && p.crawler != nil {
				cinv := p.retrier.Invoke(ctx, "chromedp_crawler", func(ctx context.Context) error {
					d, err := p.crawler.Crawl(ctx, r.URL)
					if err != nil {
						return err
					}
					if len(d.Text) > len(doc.Text) {
						doc = d
						crawled = true
					}
					return nil
				})
				if inv.Failed() {
					inv = cinv
				}
			}
			invs[i] = inv
			if len(doc.Text) >= p.cfg.MinDocumentChars {
				dones[i] = extractDone{doc: doc, crawled: crawled, ok: true}
			}
		}(i, r)
	}
	wg.Wait()

	out := extractOutput{Attempted: len(rs.Results)}
	for i, inv := range invs {
		p.recordInvocation(inv)
		d := dones[i]
		if !d.ok {
			out.Failures++
			continue
		}
		if d.crawled {
			out.Crawled++
		}
		rs.Documents = append(rs.Documents, d.doc)
	}
	out.Extracted = len(rs.Documents)

	if len(rs.Documents) == 0 {
		err := fmt.Errorf("no readable documents from %d results: %w", len(rs.Results), agent.ErrInsufficientData)
		return p.result(NodeContentExtraction, started, agent.NodeFailed, out, err), err
	}
	if out.Failures > 0 {
		return p.result(NodeContentExtraction, started, agent.NodeDegraded, out, nil), nil
	}
	return p.result(NodeContentExtraction, started, agent.NodeOk, out, nil), nil
}

// sentimentCitation links citations and scores the sentiment distribution.
// Citation linking is deterministic and cannot fail; a scorer failure leaves
// sentiment unset and degrades the node.
func (p *Pipeline) sentimentCitation(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	rs.Citations = p.citations.Link(rs.Results, rs.Documents)

	var dist agent.SentimentDistribution
	inv := p.retrier.Invoke(ctx, "llm_sentiment", func(ctx context.Context) error {
		d, err := p.sentiment.Score(ctx, rs.Analysis.Topic, rs.Documents)
		if err != nil {
			return err
		}
		dist = d
		return nil
	})
	p.recordInvocation(inv)

	if inv.Failed() {
		out := sentimentOutput{Citations: len(rs.Citations)}
		return p.result(NodeSentimentCitation, started, agent.NodeDegraded, out, inv.Err), nil
	}
	rs.Sentiment = &dist
	out := sentimentOutput{Sentiment: rs.Sentiment, Citations: len(rs.Citations)}
	return p.result(NodeSentimentCitation, started, agent.NodeOk, out, nil), nil
}

// synthesis writes the final answer. When the sentiment path was skipped the
// citations are linked here instead. A synthesizer failure falls back to an
// extractive summary so the run still completes, degraded.
func (p *Pipeline) synthesis(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	if len(rs.Citations) == 0 {
		rs.Citations = p.citations.Link(rs.Results, rs.Documents)
	}

	in := subagent.SynthesisInput{
		Query:     rs.Query.Text,
		Topic:     rs.Analysis.Topic,
		Documents: rs.Documents,
		Citations: rs.Citations,
		Sentiment: rs.Sentiment,
	}
	var text string
	inv := p.retrier.Invoke(ctx, "llm_synthesizer", func(ctx context.Context) error {
		s, err := p.synth.Synthesize(ctx, in)
		if err != nil {
			return err
		}
		text = s
		return nil
	})
	p.recordInvocation(inv)

	if inv.Failed() || strings.TrimSpace(text) == "" {
		rs.Synthesis = extractiveSummary(rs.Analysis.Topic, rs.Documents)
		out := synthesisOutput{Chars: len(rs.Synthesis), Citations: len(rs.Citations), Extracted: true}
		return p.result(NodeSynthesis, started, agent.NodeDegraded, out, inv.Err), nil
	}
	rs.Synthesis = text
	out := synthesisOutput{Chars: len(rs.Synthesis), Citations: len(rs.Citations)}
	return p.result(NodeSynthesis, started, agent.NodeOk, out, nil), nil
}

// extractiveSummary is the last-resort answer: leading text from the top
// documents, stitched with their titles.
func extractiveSummary(topic string, docs []agent.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of sources on %s:\n", topic)
	limit := 3
	if len(docs) < limit {
		limit = len(docs)
	}
	for i := 0; i < limit; i++ {
		text := docs[i].Text
		if cut := strings.Index(text, ". "); cut > 0 && cut < 400 {
			text = text[:cut+1]
		} else if len(text) > 400 {
			text = text[:400]
		}
		fmt.Fprintf(&b, "\n%s — %s\n", docs[i].Title, strings.TrimSpace(text))
	}
	return b.String()
}

// assemble finalizes the run: the best chart for the accumulated data is
// composed and persisted. Unchartable data skips the artifact without
// failing the run.
func (p *Pipeline) assemble(ctx context.Context, rs *agent.RunState) (agent.NodeResult, error) {
	started := time.Now().UTC()

	td := artifact.TopicData{Topic: rs.Analysis.Topic}
	switch {
	case rs.Sentiment != nil && rs.Sentiment.Samples > 0:
		td.Sentiment = rs.Sentiment
	case len(citationDomains(rs.Citations)) >= 2:
		td.Categories = citationDomains(rs.Citations)
	case len(rs.Citations) > 0:
		td.Columns = []string{"source", "title", "relevance"}
		for _, c := range rs.Citations {
			td.Rows = append(td.Rows, []string{c.SourceURL, c.Title, fmt.Sprintf("%.2f", c.Relevance)})
		}
	}

	art, err := p.artifacts.Generate(ctx, rs.Query.ID, td)
	if err != nil {
		var aerr *agent.ArtifactError
		if !errors.As(err, &aerr) {
			p.logger.Printf("[GRAPH] run %s: artifact persistence failed: %v", rs.Query.ID, err)
		}
		return p.result(NodeAssemble, started, agent.NodeDegraded, assembleOutput{}, err), nil
	}
	rs.Artifacts = append(rs.Artifacts, art)
	p.tel.RecordArtifact(string(art.Kind))
	out := assembleOutput{Artifacts: len(rs.Artifacts), Kind: string(art.Kind)}
	return p.result(NodeAssemble, started, agent.NodeOk, out, nil), nil
}

// citationDomains counts citations per source host, sorted by the composer.
func citationDomains(cs []agent.Citation) []artifact.CategoryCount {
	counts := make(map[string]float64)
	for _, c := range cs {
		u, err := url.Parse(c.SourceURL)
		if err != nil || u.Host == "" {
			continue
		}
		counts[strings.TrimPrefix(u.Host, "www.")]++
	}
	out := make([]artifact.CategoryCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, artifact.CategoryCount{Label: label, Value: n})
	}
	return out
}
