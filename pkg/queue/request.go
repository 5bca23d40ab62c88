package queue

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/andyfriends/vrequest/pkg/client"
)

// Request is a unit of work for the queue. Implementations embed Base,
// which provides the tag, retry policy, sequence and cancellation state.
type Request interface {
	URL() string
	Method() string
	Body() []byte
	BodyContentType() string
	Headers() http.Header
	ShouldCache() bool

	// ParseNetworkResponse runs on a worker goroutine. Its result is handed
	// to DeliverResponse on the delivery goroutine.
	ParseNetworkResponse(resp *client.Response) (any, error)

	// DeliverResponse and DeliverError run on the delivery goroutine.
	DeliverResponse(result any)
	DeliverError(err error)

	Tag() string
	SetTag(tag string)
	RetryPolicy() client.RetryPolicy
	SetRetryPolicy(policy client.RetryPolicy)
	Sequence() int64
	Cancel()
	IsCancelled() bool

	bind(parent context.Context, seq int64)
	requestContext() context.Context
	release()
}

// Base holds the queue state of a request.
type Base struct {
	mu        sync.Mutex
	tag       string
	policy    client.RetryPolicy
	seq       int64
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (b *Base) Tag() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tag
}

func (b *Base) SetTag(tag string) {
	b.mu.Lock()
	b.tag = tag
	b.mu.Unlock()
}

func (b *Base) RetryPolicy() client.RetryPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

func (b *Base) SetRetryPolicy(policy client.RetryPolicy) {
	b.mu.Lock()
	b.policy = policy
	b.mu.Unlock()
}

// Sequence is the order in which the request was added, starting at 1.
func (b *Base) Sequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Cancel marks the request cancelled and aborts its network call. Listeners
// of a cancelled request are never invoked.
func (b *Base) Cancel() {
	b.cancelled.Store(true)

	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Base) IsCancelled() bool {
	return b.cancelled.Load()
}

func (b *Base) bind(parent context.Context, seq int64) {
	ctx, cancel := context.WithCancel(parent)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.seq = seq
	b.ctx = ctx
	b.cancel = cancel
	b.mu.Unlock()

	if b.cancelled.Load() {
		cancel()
	}
}

func (b *Base) requestContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *Base) release() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
