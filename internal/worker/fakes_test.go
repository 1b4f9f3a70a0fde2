package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/completion-relay/internal/completion"
	"github.com/cuongbtq/completion-relay/internal/job"
	"github.com/cuongbtq/completion-relay/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQueue serves queued payloads in order, after returning any queued errors
type fakeQueue struct {
	mu      sync.Mutex
	errs    []error
	items   [][]byte
	pops    int
	acks    int
	rejects []bool
}

func (q *fakeQueue) push(items ...[]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

func (q *fakeQueue) Pop(_ context.Context) (*queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pops++

	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		return nil, err
	}

	if len(q.items) == 0 {
		return nil, nil
	}

	body := q.items[0]
	q.items = q.items[1:]

	return queue.NewDelivery(body,
		func(context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.acks++
			return nil
		},
		func(_ context.Context, requeue bool) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.rejects = append(q.rejects, requeue)
			return nil
		},
	), nil
}

func (q *fakeQueue) popCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pops
}

func (q *fakeQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acks
}

func (q *fakeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fakeQueue) rejected() []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]bool(nil), q.rejects...)
}

// fakeExecutor emits the fragments registered for the first prompt's content
type fakeExecutor struct {
	fragments map[string][]string
	err       error
	block     chan struct{}
	waitCtx   bool

	running    atomic.Int32
	maxRunning atomic.Int32
	calls      atomic.Int32

	mu      sync.Mutex
	ctxErrs []error
}

func (e *fakeExecutor) Stream(ctx context.Context, prompts []job.PromptMessage, onFragment completion.FragmentHandler) error {
	e.calls.Add(1)
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		current := e.maxRunning.Load()
		if n <= current || e.maxRunning.CompareAndSwap(current, n) {
			break
		}
	}

	if e.block != nil {
		<-e.block
	}

	if e.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}

	e.mu.Lock()
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	e.mu.Unlock()

	key := ""
	if len(prompts) > 0 {
		key = prompts[0].Content
	}
	for _, fragment := range e.fragments[key] {
		onFragment(fragment)
	}

	return e.err
}

type published struct {
	topic   string
	payload []byte
}

// fakePublisher records every publish; calls listed in failOn return an error
type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	calls    int
	failOn   map[int]bool
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	call := p.calls
	p.calls++
	if p.failOn[call] {
		return errors.New("broker unreachable")
	}

	p.messages = append(p.messages, published{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// chunks decodes the published messages for one topic, in publish order
func (p *fakePublisher) chunks(topic string) []job.ChunkMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []job.ChunkMessage
	for _, m := range p.messages {
		if m.topic != topic {
			continue
		}
		chunk, err := job.DecodeChunk(m.payload)
		if err != nil {
			panic(err)
		}
		out = append(out, chunk)
	}
	return out
}

type statusUpdate struct {
	jobID    string
	status   string
	workerID string
	chunks   uint64
	errorMsg string
}

type fakeRecorder struct {
	mu      sync.Mutex
	updates []statusUpdate
	err     error
}

func (r *fakeRecorder) MarkRunning(_ context.Context, jobID, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{jobID: jobID, status: job.StatusRunning, workerID: workerID})
	return r.err
}

func (r *fakeRecorder) MarkFinished(_ context.Context, jobID, status string, chunkCount uint64, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{jobID: jobID, status: status, chunks: chunkCount, errorMsg: errorMsg})
	return r.err
}

func (r *fakeRecorder) snapshot() []statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusUpdate(nil), r.updates...)
}
