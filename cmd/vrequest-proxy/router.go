package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/andyfriends/vrequest/pkg/client"
	"github.com/andyfriends/vrequest/pkg/codec"
	"github.com/andyfriends/vrequest/pkg/logging"
	"github.com/andyfriends/vrequest/pkg/metrics"
	"github.com/andyfriends/vrequest/pkg/vrequest"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// fetchTimeout bounds how long /fetch waits for a delivery.
var fetchTimeout = 30 * time.Second

func newRouter(app *vrequest.App, manager *vrequest.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/fetch", fetchHandler(app))
	r.Delete("/requests/{tag}", cancelHandler(manager))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(app *vrequest.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		fmt.Fprint(w, "READY")
	}
}

type fetchResult struct {
	body codec.RawMessage
	err  error
}

// fetchHandler dispatches GET ?url= through the manager and writes the
// delivered JSON. ?tag= sets the cancellation tag, ?cache=true the cache.
func fetchHandler(app *vrequest.App) http.HandlerFunc {
	logger := logging.Component(app.Logger, "vrequest-proxy")

	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		u, err := url.Parse(target)
		if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http(s) URL"})
			return
		}

		done := make(chan fetchResult, 1)
		req := vrequest.New[codec.RawMessage]().
			With(app).
			Load(target).
			Get().
			Cache(r.URL.Query().Get("cache") == "true").
			OnSuccess(func(body *codec.RawMessage) {
				var raw codec.RawMessage
				if body != nil {
					raw = *body
				}
				done <- fetchResult{body: raw}
			}).
			OnError(func(err error) {
				done <- fetchResult{err: err}
			})

		if tag := r.URL.Query().Get("tag"); tag != "" {
			req.FetchTag(tag)
		} else {
			req.Fetch()
		}

		timer := time.NewTimer(fetchTimeout)
		defer timer.Stop()

		select {
		case res := <-done:
			if res.err != nil {
				writeError(w, res.err)
				return
			}
			if len(res.body) == 0 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", codec.ContentType)
			w.WriteHeader(http.StatusOK)
			w.Write(res.body)
		case <-r.Context().Done():
			req.Cancel()
			logger.Debug().Str("url", target).Msg("Client went away, request cancelled")
		case <-timer.C:
			req.Cancel()
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request did not complete in time"})
		}
	}
}

func cancelHandler(manager *vrequest.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tag := chi.URLParam(r, "tag")
		n := manager.CancelAll(tag)
		writeJSON(w, http.StatusOK, map[string]any{"tag": tag, "cancelled": n})
	}
}

// writeError maps a delivery error to a response. HTTP errors from the
// upstream keep their status; other failures are 502.
func writeError(w http.ResponseWriter, err error) {
	e := client.AsError(err)

	status := http.StatusBadGateway
	if e.Class == client.ErrorClassClient && e.StatusCode >= 400 && e.StatusCode < 500 {
		status = e.StatusCode
	}

	writeJSON(w, status, map[string]any{
		"error":       err.Error(),
		"error_class": string(e.Class),
		"status":      e.StatusCode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType)
	w.WriteHeader(status)
	w.Write(data)
}
