package graph

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/internal/stream"
	"github.com/Samrat2803/cognitive-core/internal/telemetry"
)

// HistoryStore persists terminal run state. The engine writes once per run,
// at the terminal boundary.
type HistoryStore interface {
	SaveRun(ctx context.Context, rs *agent.RunState) error
}

// How long a finished run's event ring stays available for late resubscribes
// before the dispatcher releases it.
const streamRetention = 10 * time.Minute

// ErrUnknownRunID is returned by Cancel for a run the engine is not executing.
var ErrUnknownRunID = errors.New("unknown run id")

// ErrEmptyQuery rejects submissions with no usable text.
var ErrEmptyQuery = errors.New("query text is empty")

type runHandle struct {
	query     agent.Query
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// Engine executes runs over a fixed graph. Each accepted query gets its own
// goroutine and RunState; runs never share mutable state.
type Engine struct {
	cfg        config.EngineConfig
	graph      *Graph
	dispatcher *stream.Dispatcher
	store      HistoryStore
	tel        *telemetry.Telemetry
	logger     *log.Logger
	tracer     trace.Tracer

	mu   sync.Mutex
	runs map[string]*runHandle
	sem  chan struct{} // nil when concurrency is unbounded
}

// NewEngine wires the engine. store may be nil (history persistence off);
// telemetry may be nil.
func NewEngine(cfg config.EngineConfig, g *Graph, dispatcher *stream.Dispatcher, store HistoryStore, tel *telemetry.Telemetry, logger *log.Logger) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		cfg:        cfg,
		graph:      g,
		dispatcher: dispatcher,
		store:      store,
		tel:        tel,
		logger:     logger,
		tracer:     otel.Tracer("cognitive-core/graph"),
		runs:       make(map[string]*runHandle),
	}
	if cfg.MaxConcurrentRuns > 0 {
		e.sem = make(chan struct{}, cfg.MaxConcurrentRuns)
	}
	return e, nil
}

// Submit accepts a query, assigns a run id and starts execution
// asynchronously. The returned id is valid for streaming immediately.
func (e *Engine) Submit(text string) (string, error) {
	h, err := e.accept(text)
	if err != nil {
		return "", err
	}
	go e.execute(h)
	return h.query.ID, nil
}

// Execute runs a query on the calling goroutine and returns its terminal
// state. Cancelling ctx cancels the run; the returned state then carries the
// cancelled status.
func (e *Engine) Execute(ctx context.Context, text string) (*agent.RunState, error) {
	h, err := e.accept(text)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = e.Cancel(h.query.ID) })
	defer stop()
	return e.execute(h), nil
}

func (e *Engine) accept(text string) (*runHandle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	q := agent.Query{
		ID:          uuid.New().String(),
		Text:        text,
		SubmittedAt: time.Now().UTC(),
	}
	h := &runHandle{query: q}
	e.mu.Lock()
	e.runs[q.ID] = h
	e.mu.Unlock()

	if e.dispatcher != nil {
		e.dispatcher.Register(q.ID)
	}
	return h, nil
}

// Cancel marks a running run cancelled. The run halts at the next node
// boundary; work already persisted is kept.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	h, ok := e.runs[runID]
	var cancel context.CancelFunc
	if ok {
		h.cancelled.Store(true)
		cancel = h.cancel
	}
	e.mu.Unlock()
	if !ok {
		return ErrUnknownRunID
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Active reports whether the engine is still executing the run.
func (e *Engine) Active(runID string) (agent.Query, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[runID]
	if !ok {
		return agent.Query{}, false
	}
	return h.query, true
}

func (e *Engine) execute(h *runHandle) *agent.RunState {
	if e.sem != nil {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
	}

	rs := agent.NewRunState(h.query)
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RunCeiling)
	defer cancel()
	e.mu.Lock()
	h.cancel = cancel
	e.mu.Unlock()

	ctx, runSpan := e.tracer.Start(ctx, "run",
		trace.WithAttributes(attribute.String("run.id", h.query.ID)))
	defer runSpan.End()

	e.logger.Printf("[GRAPH] run %s started: %q", h.query.ID, h.query.Text)

	current := e.graph.Entry()
	for {
		if h.cancelled.Load() {
			e.finish(rs, agent.RunCancelled, "cancelled by client")
			return rs
		}
		if ctx.Err() != nil {
			e.finish(rs, agent.RunFailed, agent.ErrRunTimeout.Error())
			return rs
		}

		fn, ok := e.graph.Node(current)
		if !ok {
			e.finish(rs, agent.RunFailed, fmt.Sprintf("node %q not registered", current))
			return rs
		}

		e.publish(rs, stream.Event{Kind: stream.NodeStarted, Node: current})
		nodeCtx, nodeSpan := e.tracer.Start(ctx, "node."+current)
		artifactsBefore := len(rs.Artifacts)
		nr, nodeErr := fn(nodeCtx, rs)
		nodeSpan.SetAttributes(attribute.String("node.status", string(nr.Status)))
		nodeSpan.End()
		rs.Append(nr)
		e.publish(rs, stream.Event{Kind: stream.NodeCompleted, Node: current, Payload: nr})

		if current == NodeSynthesis && rs.Synthesis != "" {
			e.publish(rs, stream.Event{
				Kind:    stream.PartialText,
				Node:    current,
				Payload: map[string]string{"text": rs.Synthesis},
			})
		}
		for _, art := range rs.Artifacts[artifactsBefore:] {
			e.publish(rs, stream.Event{Kind: stream.ArtifactReady, Node: current, Payload: art})
		}

		if h.cancelled.Load() {
			e.finish(rs, agent.RunCancelled, "cancelled by client")
			return rs
		}
		if ctx.Err() != nil {
			// the ceiling, not the node, decides the terminal reason
			e.finish(rs, agent.RunFailed, agent.ErrRunTimeout.Error())
			return rs
		}
		if nodeErr != nil {
			e.finish(rs, agent.RunFailed, nodeErr.Error())
			return rs
		}

		next, ok := e.graph.Next(current, rs)
		if !ok {
			e.finish(rs, agent.RunCompleted, "")
			return rs
		}
		current = next
	}
}

func (e *Engine) publish(rs *agent.RunState, evt stream.Event) {
	if e.dispatcher == nil {
		return
	}
	evt.RunID = rs.Query.ID
	e.dispatcher.Publish(rs.Query.ID, evt)
}

// finish stamps the terminal state, emits the terminal event, persists the
// trace and retires the run.
func (e *Engine) finish(rs *agent.RunState, status agent.RunStatus, reason string) {
	rs.Status = status
	rs.Reason = reason
	rs.FinishedAt = time.Now().UTC()
	elapsed := rs.FinishedAt.Sub(rs.StartedAt)

	switch status {
	case agent.RunCompleted:
		e.publish(rs, stream.Event{Kind: stream.RunCompleted, Payload: completedPayload(rs)})
		e.logger.Printf("[GRAPH] run %s completed in %s (%d nodes, %d artifacts)",
			rs.Query.ID, elapsed.Round(time.Millisecond), len(rs.Trace), len(rs.Artifacts))
	case agent.RunCancelled:
		e.publish(rs, stream.Event{Kind: stream.RunCancelled})
		e.logger.Printf("[GRAPH] run %s cancelled after %d nodes", rs.Query.ID, len(rs.Trace))
	default:
		e.publish(rs, stream.Event{Kind: stream.RunFailed, Payload: map[string]string{"reason": reason}})
		e.logger.Printf("[GRAPH] run %s failed: %s", rs.Query.ID, reason)
	}
	if e.tel != nil {
		e.tel.RecordRun(string(status), elapsed)
	}

	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.store.SaveRun(saveCtx, rs); err != nil {
			e.logger.Printf("[GRAPH] run %s: history save failed: %v", rs.Query.ID, err)
		}
		cancel()
	}

	e.mu.Lock()
	delete(e.runs, rs.Query.ID)
	e.mu.Unlock()

	if e.dispatcher != nil {
		// keep the ring around so a reconnecting client can still replay
		runID := rs.Query.ID
		time.AfterFunc(streamRetention, func() { e.dispatcher.Release(runID) })
	}
}

type runCompletedPayload struct {
	Synthesis string           `json:"synthesis"`
	Citations []agent.Citation `json:"citations,omitempty"`
	Artifacts []agent.Artifact `json:"artifacts,omitempty"`
	Elapsed   string           `json:"elapsed"`
}

func completedPayload(rs *agent.RunState) runCompletedPayload {
	return runCompletedPayload{
		Synthesis: rs.Synthesis,
		Citations: rs.Citations,
		Artifacts: rs.Artifacts,
		Elapsed:   rs.FinishedAt.Sub(rs.StartedAt).Round(time.Millisecond).String(),
	}
}
