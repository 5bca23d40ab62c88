// Package queue runs requests on a fixed pool of workers and delivers their
// results one at a time on a single delivery goroutine.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andyfriends/vrequest/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	queuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vrequest_queue_pending",
		Help: "Requests added to the queue and not yet finished",
	})

	queueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrequest_queue_requests_total",
		Help: "Total requests finished by the queue by outcome",
	}, []string{"outcome"})
)

// Outcomes recorded in vrequest_queue_requests_total.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

var (
	// ErrQueueStopped is delivered to requests added after Stop.
	ErrQueueStopped = errors.New("request queue stopped")

	// ErrAlreadyQueued is returned by Add for a request that has not
	// finished its previous dispatch. Nothing is delivered for it.
	ErrAlreadyQueued = errors.New("request already queued")
)

// Network performs the HTTP part of a request. *client.Client implements it.
type Network interface {
	Perform(ctx context.Context, req *client.Request, policy client.RetryPolicy) (*client.Response, error)
}

// Config sizes the queue.
type Config struct {
	// Workers is the number of concurrent network calls.
	Workers int

	// BufferSize is the number of results workers can hand over before
	// waiting for the delivery goroutine. Add never blocks on it.
	BufferSize int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		BufferSize: 256,
	}
}

// Queue dispatches requests to the network and delivers results.
type Queue struct {
	network Network
	config  Config
	logger  zerolog.Logger

	deliveries chan func()

	// ctx is the parent of every request context; cancelling it aborts
	// in-flight calls.
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// ready is signalled when pending grows or the queue stops.
	ready   *sync.Cond
	pending []Request
	current map[Request]struct{}
	started bool
	stopped bool

	seq          atomic.Int64
	workers      sync.WaitGroup
	deliveryDone chan struct{}
}

// New creates a queue. Call Start to run it.
func New(network Network, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		network:      network,
		config:       cfg,
		logger:       logger,
		deliveries:   make(chan func(), cfg.BufferSize+cfg.Workers),
		ctx:          ctx,
		cancel:       cancel,
		current:      make(map[Request]struct{}),
		deliveryDone: make(chan struct{}),
	}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers and the delivery goroutine. It is a no-op
// when the queue is already running or stopped.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	for i := 0; i < q.config.Workers; i++ {
		q.workers.Add(1)
		go q.work(i)
	}
	go q.deliver()

	q.logger.Info().
		Int("workers", q.config.Workers).
		Int("buffer_size", q.config.BufferSize).
		Msg("Request queue started")
}

// Add submits req without blocking, so listeners may chain requests. A
// stopped queue delivers ErrQueueStopped to the request's error listener
// synchronously and returns it. A request still in the queue is refused
// with ErrAlreadyQueued.
func (q *Queue) Add(req Request) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.reject(req)
		return ErrQueueStopped
	}
	if _, ok := q.current[req]; ok {
		q.mu.Unlock()
		q.logger.Warn().Str("url", req.URL()).Int64("sequence", req.Sequence()).Msg("Request already queued")
		return ErrAlreadyQueued
	}
	seq := q.seq.Add(1)
	req.bind(q.ctx, seq)
	q.current[req] = struct{}{}
	q.pending = append(q.pending, req)
	queuePending.Inc()
	q.ready.Signal()
	q.mu.Unlock()

	q.logger.Debug().
		Str("url", req.URL()).
		Str("method", req.Method()).
		Str("tag", req.Tag()).
		Int64("sequence", seq).
		Msg("Request added")
	return nil
}

// Contains reports whether req was added and has not finished yet.
func (q *Queue) Contains(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.current[req]
	return ok
}

func (q *Queue) reject(req Request) {
	queueRequestsTotal.WithLabelValues(OutcomeRejected).Inc()
	q.logger.Warn().Str("url", req.URL()).Msg("Request added to stopped queue")
	req.DeliverError(ErrQueueStopped)
}

// CancelAll cancels every pending or in-flight request with the given tag.
func (q *Queue) CancelAll(tag string) int {
	return q.CancelFunc(func(req Request) bool {
		return req.Tag() == tag
	})
}

// CancelFunc cancels every pending or in-flight request accepted by filter
// and returns how many were cancelled.
func (q *Queue) CancelFunc(filter func(Request) bool) int {
	q.mu.Lock()
	var matched []Request
	for req := range q.current {
		if filter(req) {
			matched = append(matched, req)
		}
	}
	q.mu.Unlock()

	for _, req := range matched {
		req.Cancel()
	}

	if len(matched) > 0 {
		q.logger.Debug().Int("count", len(matched)).Msg("Requests cancelled")
	}
	return len(matched)
}

// Len returns the number of requests added and not yet finished.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.current)
}

// Stop stops accepting requests, discards waiting ones and waits for
// in-flight requests and pending deliveries. When ctx ends first, in-flight
// requests are aborted and ctx's error is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	waiting := q.pending
	q.pending = nil
	q.ready.Broadcast()
	q.mu.Unlock()

	q.logger.Info().Int("discarded", len(waiting)).Msg("Stopping request queue")
	q.discard(waiting)

	if !started {
		q.cancel()
		close(q.deliveryDone)
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(q.deliveries)
		<-q.deliveryDone
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info().Msg("Request queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn().Err(ctx.Err()).Msg("Request queue stop timed out, in-flight requests aborted")
		return ctx.Err()
	}
}

// discard cancels requests that never reached a worker.
func (q *Queue) discard(waiting []Request) {
	for _, req := range waiting {
		req.Cancel()
		q.finish(req, OutcomeCancelled)
	}
}

// next blocks until a request is pending or the queue stops.
func (q *Queue) next() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.stopped {
		q.ready.Wait()
	}
	if q.stopped {
		return nil, false
	}
	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return req, true
}

func (q *Queue) work(id int) {
	defer q.workers.Done()

	logger := q.logger.With().Int("worker", id).Logger()
	for {
		req, ok := q.next()
		if !ok {
			return
		}
		q.process(logger, req)
	}
}

func (q *Queue) process(logger zerolog.Logger, req Request) {
	if req.IsCancelled() {
		q.finish(req, OutcomeCancelled)
		return
	}

	resp, err := q.network.Perform(req.requestContext(), &client.Request{
		Method:      req.Method(),
		URL:         req.URL(),
		Header:      req.Headers(),
		Body:        req.Body(),
		ContentType: req.BodyContentType(),
		Cache:       req.ShouldCache(),
	}, req.RetryPolicy())

	if req.IsCancelled() {
		logger.Debug().Str("url", req.URL()).Msg("Request cancelled, discarding result")
		q.finish(req, OutcomeCancelled)
		return
	}

	if err != nil {
		logger.Debug().Err(err).Str("url", req.URL()).Msg("Request failed")
		q.post(req, OutcomeError, func() { req.DeliverError(err) })
		return
	}

	result, err := req.ParseNetworkResponse(resp)
	if err != nil {
		logger.Debug().Err(err).Str("url", req.URL()).Msg("Response parse failed")
		q.post(req, OutcomeError, func() { req.DeliverError(err) })
		return
	}

	q.post(req, OutcomeSuccess, func() { req.DeliverResponse(result) })
}

// post hands a listener call to the delivery goroutine.
func (q *Queue) post(req Request, outcome string, fn func()) {
	q.deliveries <- func() {
		if req.IsCancelled() {
			q.finish(req, OutcomeCancelled)
			return
		}
		fn()
		q.finish(req, outcome)
	}
}

func (q *Queue) deliver() {
	defer close(q.deliveryDone)
	for fn := range q.deliveries {
		fn()
	}
}

func (q *Queue) finish(req Request, outcome string) {
	q.mu.Lock()
	_, ok := q.current[req]
	delete(q.current, req)
	q.mu.Unlock()

	if !ok {
		return
	}
	req.release()
	queuePending.Dec()
	queueRequestsTotal.WithLabelValues(outcome).Inc()
}
