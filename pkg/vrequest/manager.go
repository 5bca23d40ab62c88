package vrequest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andyfriends/vrequest/pkg/client"
	"github.com/andyfriends/vrequest/pkg/logging"
	"github.com/andyfriends/vrequest/pkg/queue"
	"github.com/rs/zerolog"
)

// ErrNilApp is returned when a Manager is requested without an App.
var ErrNilApp = errors.New("vrequest: app must not be nil")

var (
	shared   atomic.Pointer[Manager]
	sharedMu sync.Mutex
)

// Manager owns the request queue and applies tags and retry policies to
// requests before submitting them.
type Manager struct {
	app     *App
	network *client.Client
	queue   *queue.Queue
	logger  zerolog.Logger
}

// Singleton returns the process-wide Manager, creating it from app on first
// use. Later calls return the same Manager and ignore app.
func Singleton(app *App) (*Manager, error) {
	if m := shared.Load(); m != nil {
		return m, nil
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if m := shared.Load(); m != nil {
		return m, nil
	}

	m, err := NewManager(app)
	if err != nil {
		return nil, err
	}
	shared.Store(m)
	return m, nil
}

// NewManager creates a Manager with its own running queue.
func NewManager(app *App) (*Manager, error) {
	if app == nil {
		return nil, ErrNilApp
	}

	logger := logging.Component(app.Logger, "vrequest-manager")

	network, err := client.New(client.ConfigFrom(app.Config, app.Redis),
		logging.Component(app.Logger, "vrequest-client"))
	if err != nil {
		return nil, fmt.Errorf("create network client: %w", err)
	}
	if app.HTTPClient != nil {
		network.SetHTTPClient(app.HTTPClient)
	}

	q := queue.New(network, queue.Config{
		Workers:    app.Config.Queue.Workers,
		BufferSize: app.Config.Queue.BufferSize,
	}, logging.Component(app.Logger, "vrequest-queue"))
	q.Start()

	logger.Info().
		Bool("cache_enabled", app.Config.Cache.Enabled).
		Bool("rate_limit_enabled", app.Config.RateLimit.Enabled).
		Msg("Request manager created")

	return &Manager{
		app:     app,
		network: network,
		queue:   q,
		logger:  logger,
	}, nil
}

// Enqueue submits req tagged with its URL under the default retry policy.
func (m *Manager) Enqueue(req queue.Request) error {
	return m.EnqueueWithTag(req, req.URL())
}

// EnqueueWithTag submits req with tag under the default retry policy.
func (m *Manager) EnqueueWithTag(req queue.Request, tag string) error {
	return m.EnqueueWithPolicy(req, tag, m.DefaultRetryPolicy())
}

// EnqueueWithPolicy submits req with tag and policy. An empty tag means the
// request's URL; a nil policy means the default policy.
func (m *Manager) EnqueueWithPolicy(req queue.Request, tag string, policy client.RetryPolicy) error {
	if policy == nil {
		policy = m.DefaultRetryPolicy()
	}
	req.SetRetryPolicy(policy)

	if tag == "" {
		tag = req.URL()
	}
	req.SetTag(tag)

	dispatchedTotal.WithLabelValues(req.Method()).Inc()
	return m.queue.Add(req)
}

// DefaultRetryPolicy returns a fresh policy from the configured retry settings.
func (m *Manager) DefaultRetryPolicy() client.RetryPolicy {
	return client.RetryPolicyFromConfig(m.app.Config.Retry)
}

// CancelAll cancels every pending or in-flight request with tag.
func (m *Manager) CancelAll(tag string) int {
	n := m.queue.CancelAll(tag)
	m.logger.Debug().Str("tag", tag).Int("count", n).Msg("Cancelled requests by tag")
	return n
}

// Queue returns the underlying request queue.
func (m *Manager) Queue() *queue.Queue {
	return m.queue
}

// Network returns the network client used by the queue.
func (m *Manager) Network() *client.Client {
	return m.network
}

// Shutdown stops the queue and releases the network client. It does not
// reset the process-wide Manager; later requests are rejected with
// queue.ErrQueueStopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.queue.Stop(ctx)
	if cerr := m.network.Close(); err == nil {
		err = cerr
	}
	return err
}
