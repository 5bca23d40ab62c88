package vrequest

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/andyfriends/vrequest/pkg/client"
	"github.com/andyfriends/vrequest/pkg/codec"
	"github.com/andyfriends/vrequest/pkg/logging"
	"github.com/andyfriends/vrequest/pkg/queue"
	"github.com/rs/zerolog"
)

var errMalformedJSON = errors.New("malformed JSON")

// Request is a request descriptor whose response decodes into T. It is
// configured by chained calls and dispatched by one of the Fetch methods.
// After dispatch it belongs to the queue and must not be reconfigured.
type Request[T any] struct {
	queue.Base

	app    *App
	url    string
	loader Loader[T]

	// resolved is the URL fixed at dispatch.
	resolved string

	method  string
	payload any
	body    []byte
	header  http.Header
	cache   bool

	onSuccess       func(*T)
	onError         func(error)
	onErrorResponse func(*client.Error)
}

var _ queue.Request = (*Request[struct{}])(nil)

// New returns an empty descriptor decoding responses into T.
func New[T any]() *Request[T] {
	return &Request[T]{}
}

// With sets the App used to obtain the Manager.
func (r *Request[T]) With(app *App) *Request[T] {
	r.app = app
	return r
}

// Load sets a literal URL.
func (r *Request[T]) Load(url string) *Request[T] {
	r.url = url
	return r
}

// LoadFrom sets a Loader that supplies the URL and receives the result.
// It takes precedence over Load.
func (r *Request[T]) LoadFrom(loader Loader[T]) *Request[T] {
	r.loader = loader
	return r
}

// Params sets the method and the body. body is encoded as JSON at dispatch;
// nil sends no body.
func (r *Request[T]) Params(method string, body any) *Request[T] {
	r.method = method
	r.payload = body
	return r
}

// Get sets the GET method without a body.
func (r *Request[T]) Get() *Request[T] { return r.Params(http.MethodGet, nil) }

// Post sets the POST method with body.
func (r *Request[T]) Post(body any) *Request[T] { return r.Params(http.MethodPost, body) }

// Put sets the PUT method with body.
func (r *Request[T]) Put(body any) *Request[T] { return r.Params(http.MethodPut, body) }

// Patch sets the PATCH method with body.
func (r *Request[T]) Patch(body any) *Request[T] { return r.Params(http.MethodPatch, body) }

// Delete sets the DELETE method. body may be nil.
func (r *Request[T]) Delete(body any) *Request[T] { return r.Params(http.MethodDelete, body) }

// Header adds a request header.
func (r *Request[T]) Header(key, value string) *Request[T] {
	if r.header == nil {
		r.header = make(http.Header)
	}
	r.header.Add(key, value)
	return r
}

// Cache enables the response cache for GET requests.
func (r *Request[T]) Cache(enabled bool) *Request[T] {
	r.cache = enabled
	return r
}

// OnSuccess sets the listener receiving the decoded response.
func (r *Request[T]) OnSuccess(fn func(*T)) *Request[T] {
	r.onSuccess = fn
	return r
}

// OnError sets the listener receiving any error value.
func (r *Request[T]) OnError(fn func(error)) *Request[T] {
	r.onError = fn
	return r
}

// OnErrorResponse sets the listener receiving errors as *client.Error,
// with the status, body and headers of HTTP error responses.
func (r *Request[T]) OnErrorResponse(fn func(*client.Error)) *Request[T] {
	r.onErrorResponse = fn
	return r
}

// Fetch dispatches the request tagged with its URL under the default retry policy.
// A request still in the queue is not dispatched again until it finishes.
func (r *Request[T]) Fetch() *Request[T] {
	return r.dispatch(func(m *Manager) error {
		return m.Enqueue(r)
	})
}

// FetchTag dispatches the request with tag under the default retry policy.
func (r *Request[T]) FetchTag(tag string) *Request[T] {
	return r.dispatch(func(m *Manager) error {
		return m.EnqueueWithTag(r, tag)
	})
}

// FetchTagRetry dispatches the request with tag and policy.
func (r *Request[T]) FetchTagRetry(tag string, policy client.RetryPolicy) *Request[T] {
	return r.dispatch(func(m *Manager) error {
		return m.EnqueueWithPolicy(r, tag, policy)
	})
}

// FetchRetry dispatches the request tagged with its URL under policy.
func (r *Request[T]) FetchRetry(policy client.RetryPolicy) *Request[T] {
	return r.dispatch(func(m *Manager) error {
		return m.EnqueueWithPolicy(r, r.URL(), policy)
	})
}

func (r *Request[T]) dispatch(enqueue func(*Manager) error) *Request[T] {
	logger := r.logger()

	m, err := Singleton(r.app)
	if err == nil && m.queue.Contains(r) {
		logger.Warn().Str("url", r.URL()).Msg("Request still queued, dispatch ignored")
		return r
	}

	r.resolved = r.resolveURL()
	r.body = nil
	if r.payload != nil {
		body, encErr := codec.Marshal(r.payload)
		if encErr != nil {
			logger.Error().Err(encErr).Str("url", r.resolved).Msg("Failed to encode request body, sending without body")
		} else {
			r.body = body
		}
	}

	if err != nil {
		logger.Error().Err(err).Str("url", r.resolved).Msg("Request manager unavailable")
		r.DeliverError(err)
		return r
	}

	if err := enqueue(m); err != nil {
		logger.Debug().Err(err).Str("url", r.resolved).Msg("Request rejected by queue")
	}
	return r
}

func (r *Request[T]) resolveURL() string {
	if r.loader != nil {
		return r.loader.URL()
	}
	return r.url
}

func (r *Request[T]) logger() zerolog.Logger {
	if r.app != nil {
		return logging.Component(r.app.Logger, "vrequest")
	}
	return logging.NewLogger("vrequest")
}

// URL returns the URL fixed at dispatch, or the configured one before.
func (r *Request[T]) URL() string {
	if r.resolved != "" {
		return r.resolved
	}
	return r.resolveURL()
}

// Method returns the configured method. Without one, requests with a body
// are POST and the others GET.
func (r *Request[T]) Method() string {
	if r.method != "" {
		return r.method
	}
	if r.payload != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

// Body returns the JSON body encoded at dispatch.
func (r *Request[T]) Body() []byte {
	return r.body
}

// BodyContentType is the JSON content type with UTF-8 charset.
func (r *Request[T]) BodyContentType() string {
	return codec.ContentType
}

// Headers returns a copy of the headers added with Header.
func (r *Request[T]) Headers() http.Header {
	return r.header.Clone()
}

// ShouldCache reports whether Cache(true) was set.
func (r *Request[T]) ShouldCache() bool {
	return r.cache
}

// ParseNetworkResponse converts the body to UTF-8 and checks it is JSON.
// An empty body parses to nil.
func (r *Request[T]) ParseNetworkResponse(resp *client.Response) (any, error) {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return []byte(nil), nil
	}

	data, err := codec.DecodeCharset(resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return nil, client.NewParseError(resp.StatusCode, err)
	}
	if !codec.Valid(data) {
		return nil, client.NewParseError(resp.StatusCode, errMalformedJSON)
	}
	return data, nil
}

// DeliverResponse decodes the payload into a new T and hands it to the
// loader and then to the success listener. When decoding fails only the
// success listener is called, with nil.
func (r *Request[T]) DeliverResponse(result any) {
	raw, _ := result.([]byte)
	if len(raw) == 0 {
		if r.loader != nil {
			r.loader.OnSuccess(nil)
		}
		if r.onSuccess != nil {
			r.onSuccess(nil)
		}
		return
	}

	value := new(T)
	if err := codec.Unmarshal(raw, value); err != nil {
		decodeFailuresTotal.Inc()
		logger := r.logger()
		logger.Warn().
			Err(err).
			Str("url", r.URL()).
			Str("tag", r.Tag()).
			Msg("Failed to decode response, delivering nil")
		if r.onSuccess != nil {
			r.onSuccess(nil)
		}
		return
	}

	if r.loader != nil {
		r.loader.OnSuccess(value)
	}
	if r.onSuccess != nil {
		r.onSuccess(value)
	}
}

// DeliverError hands err to OnErrorResponse as a *client.Error and then to OnError.
func (r *Request[T]) DeliverError(err error) {
	if r.onErrorResponse != nil {
		r.onErrorResponse(client.AsError(err))
	}
	if r.onError != nil {
		r.onError(err)
	}
}
