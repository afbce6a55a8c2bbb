// Package stream delivers ordered progress events from a run to its
// subscribed client. Each run has a bounded ring buffer written by exactly
// one producer (the run goroutine); sequence numbers are strictly increasing
// per run so consumers can detect gaps.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Samrat2803/cognitive-core/internal/telemetry"
)

// Kind enumerates stream event types.
type Kind string

const (
	NodeStarted   Kind = "node_started"
	NodeCompleted Kind = "node_completed"
	PartialText   Kind = "partial_text"
	ArtifactReady Kind = "artifact_ready"
	RunCompleted  Kind = "run_completed"
	RunFailed     Kind = "run_failed"
	RunCancelled  Kind = "run_cancelled"
	// Resync is synthetic: it replaces events dropped beyond the buffer
	// bound and tells the consumer where the live sequence resumes.
	Resync Kind = "resync"
)

// Terminal reports whether the kind ends a run's stream.
func (k Kind) Terminal() bool {
	return k == RunCompleted || k == RunFailed || k == RunCancelled
}

// Event is one progress or result record for a run.
type Event struct {
	RunID     string      `json:"run_id"`
	Seq       uint64      `json:"seq"`
	Kind      Kind        `json:"kind"`
	Node      string      `json:"node,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Marshal returns the JSON encoding for SSE frames and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ErrUnknownRun is returned when subscribing to a run the dispatcher has
// never seen (or has already released).
var ErrUnknownRun = errors.New("unknown run")

// Dispatcher is the per-process event hub. One ring per run; any number of
// subscribers, each with its own delivery channel.
type Dispatcher struct {
	mu       sync.RWMutex
	runs     map[string]*runStream
	capacity int
	subBuf   int
	tel      *telemetry.Telemetry
}

type runStream struct {
	ring   *ring
	subs   map[chan Event]struct{}
	closed bool
}

// NewDispatcher creates a dispatcher with the given per-run buffer capacity
// and per-subscriber channel size.
func NewDispatcher(capacity, subscriberBuffer int) *Dispatcher {
	if capacity <= 0 {
		capacity = 256
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 32
	}
	return &Dispatcher{
		runs:     make(map[string]*runStream),
		capacity: capacity,
		subBuf:   subscriberBuffer,
	}
}

// SetTelemetry attaches metric collectors; dropped events are counted. May be
// left unset.
func (d *Dispatcher) SetTelemetry(tel *telemetry.Telemetry) {
	d.tel = tel
}

// Register creates the stream for a newly accepted run. Publishing to an
// unregistered run registers it implicitly; Register exists so subscribers
// can attach before the first event.
func (d *Dispatcher) Register(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureLocked(runID)
}

func (d *Dispatcher) ensureLocked(runID string) *runStream {
	rs := d.runs[runID]
	if rs == nil {
		rs = &runStream{ring: newRing(d.capacity), subs: make(map[chan Event]struct{})}
		d.runs[runID] = rs
	}
	return rs
}

// Publish assigns the next sequence number and delivers the event. The send
// to each subscriber is non-blocking: a slow reader misses live delivery and
// recovers through replay on reconnect; the producer never blocks and the
// buffer never grows past its bound. Terminal events close all subscriber
// channels after delivery.
func (d *Dispatcher) Publish(runID string, evt Event) Event {
	d.mu.Lock()
	rs := d.ensureLocked(runID)
	if rs.closed {
		d.mu.Unlock()
		return evt
	}
	evt.RunID = runID
	evt.Seq = rs.ring.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	dropped := 0
	if rs.ring.full() {
		// oldest buffered event is about to be overwritten
		dropped++
	}
	rs.ring.push(evt)
	subs := make([]chan Event, 0, len(rs.subs))
	for ch := range rs.subs {
		subs = append(subs, ch)
	}
	terminal := evt.Kind.Terminal()
	if terminal {
		rs.closed = true
		rs.subs = make(map[chan Event]struct{})
	}
	d.mu.Unlock()

	for _, ch := range subs {
		if terminal {
			// the reserved slot below keeps this send from ever failing
			select {
			case ch <- evt:
			default:
				dropped++
			}
			close(ch)
			continue
		}
		// keep one slot free so the terminal event always lands; the
		// producer is the run goroutine, so len is stable here
		if len(ch) >= cap(ch)-1 {
			dropped++
			continue
		}
		select {
		case ch <- evt:
		default:
			// Slow subscriber; replay covers it.
			dropped++
		}
	}
	d.tel.RecordStreamDrop(dropped)
	return evt
}

// Subscribe attaches to a run's stream. Events already buffered with
// Seq > lastSeq are replayed onto the returned channel first; if events the
// subscriber has not seen were dropped beyond the buffer bound, a synthetic
// Resync event precedes the replay. For a finished run the channel is closed
// once the replay is delivered. cancel must be called when the consumer is
// done.
func (d *Dispatcher) Subscribe(runID string, lastSeq uint64) (<-chan Event, func(), error) {
	d.mu.Lock()
	rs := d.runs[runID]
	if rs == nil {
		d.mu.Unlock()
		return nil, nil, ErrUnknownRun
	}

	replay := rs.ring.since(lastSeq)
	var resync *Event
	if first, ok := rs.ring.firstSeq(); ok && first > lastSeq+1 {
		resync = &Event{
			RunID:     runID,
			Seq:       first - 1,
			Kind:      Resync,
			Payload:   map[string]uint64{"resume_from": first, "dropped_through": first - 1},
			Timestamp: time.Now().UTC(),
		}
	}

	ch := make(chan Event, d.subBuf+len(replay)+1)
	if resync != nil {
		ch <- *resync
	}
	for _, evt := range replay {
		ch <- evt
	}
	closed := rs.closed
	if !closed {
		rs.subs[ch] = struct{}{}
	}
	d.mu.Unlock()

	if closed {
		close(ch)
		return ch, func() {}, nil
	}

	cancel := func() {
		d.mu.Lock()
		if cur := d.runs[runID]; cur != nil {
			if _, ok := cur.subs[ch]; ok {
				delete(cur.subs, ch)
				close(ch)
			}
		}
		d.mu.Unlock()
	}
	return ch, cancel, nil
}

// Release drops a run's buffered history. Called after the terminal trace is
// durably persisted; later readers go to the store instead.
func (d *Dispatcher) Release(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rs, ok := d.runs[runID]; ok {
		for ch := range rs.subs {
			close(ch)
		}
		delete(d.runs, runID)
	}
}

// Stats returns buffered event count and next sequence for a run.
func (d *Dispatcher) Stats(runID string) (buffered int, nextSeq uint64, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rs := d.runs[runID]
	if rs == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return rs.ring.count, rs.ring.nextSeq, nil
}

// ring is a fixed-capacity ring buffer of events. Sequence numbers start at 1.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

func (r *ring) full() bool { return r.count == len(r.buf) }

func (r *ring) push(e Event) {
	r.nextSeq = e.Seq + 1
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) firstSeq() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[r.start].Seq, true
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
