package capture

import (
	"sync/atomic"

	"github.com/sweeney/nexus-sensor/internal/ook"
)

// Counters is a snapshot of decoder activity since startup.
type Counters struct {
	Edges     uint64
	Preambles uint64
	Payloads  uint64
	Dropped   uint64
	Errors    [ook.NumReasons]uint64
}

// ErrorTotal sums the per-reason error counters.
func (c Counters) ErrorTotal() uint64 {
	var n uint64
	for _, v := range c.Errors {
		n += v
	}
	return n
}

// Sub returns the counter deltas since prev.
func (c Counters) Sub(prev Counters) Counters {
	d := Counters{
		Edges:     c.Edges - prev.Edges,
		Preambles: c.Preambles - prev.Preambles,
		Payloads:  c.Payloads - prev.Payloads,
		Dropped:   c.Dropped - prev.Dropped,
	}
	for i := range c.Errors {
		d.Errors[i] = c.Errors[i] - prev.Errors[i]
	}
	return d
}

// Pipeline runs the classifier and assembler in the capture context and
// queues completed payloads for the processing loop.
type Pipeline struct {
	classifier *ook.Classifier
	assembler  *ook.Assembler
	queue      *Queue
	diag       chan<- ook.DecodeError

	edges     atomic.Uint64
	preambles atomic.Uint64
	payloads  atomic.Uint64
	errors    [ook.NumReasons]atomic.Uint64
}

// NewPipeline wires a classifier to a new assembler. When diag is non-nil
// each discarded frame is offered to it without blocking; errors are counted
// whether or not the channel has room.
func NewPipeline(c *ook.Classifier, cfg ook.AssemblerConfig, queueSize int, diag chan<- ook.DecodeError) (*Pipeline, error) {
	p := &Pipeline{
		classifier: c,
		queue:      NewQueue(queueSize),
		diag:       diag,
	}
	a, err := ook.NewAssembler(cfg, p.onPayload, p.onError)
	if err != nil {
		return nil, err
	}
	p.assembler = a
	return p, nil
}

// HandleEdge classifies and assembles one edge. It must only be called from
// the source's delivery goroutine.
func (p *Pipeline) HandleEdge(e ook.Edge) {
	p.edges.Add(1)
	sym := p.classifier.Classify(e.Ticks, e.Carrier)
	if sym == ook.SymbolPreamble {
		p.preambles.Add(1)
	}
	p.assembler.Feed(sym, e.Ticks)
}

// Next returns the oldest queued payload. Only the processing loop may call
// Next.
func (p *Pipeline) Next() (ook.RawPayload, bool) {
	return p.queue.Pop()
}

// Preambles returns the number of preambles seen, used as a cheap activity
// signal by the processing loop.
func (p *Pipeline) Preambles() uint64 {
	return p.preambles.Load()
}

// Counters returns a snapshot of all counters.
func (p *Pipeline) Counters() Counters {
	c := Counters{
		Edges:     p.edges.Load(),
		Preambles: p.preambles.Load(),
		Payloads:  p.payloads.Load(),
		Dropped:   p.queue.Dropped(),
	}
	for i := range p.errors {
		c.Errors[i] = p.errors[i].Load()
	}
	return c
}

func (p *Pipeline) onPayload(raw ook.RawPayload) {
	p.payloads.Add(1)
	p.queue.Push(raw)
}

func (p *Pipeline) onError(e ook.DecodeError) {
	p.errors[e.Reason].Add(1)
	if p.diag == nil {
		return
	}
	select {
	case p.diag <- e:
	default:
	}
}
