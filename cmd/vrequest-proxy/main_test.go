package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/andyfriends/vrequest/internal/testutil"
	"github.com/andyfriends/vrequest/pkg/config"
	"github.com/andyfriends/vrequest/pkg/vrequest"
	"github.com/rs/zerolog"
)

var (
	mockAPI *testutil.MockAPI
	testApp *vrequest.App
	manager *vrequest.Manager
)

func TestMain(m *testing.M) {
	mockAPI = testutil.NewMockAPI()

	testApp = vrequest.NewApp(config.DefaultConfig(), nil)
	testApp.Logger = zerolog.Nop()
	testApp.HTTPClient = mockAPI.HTTPClient()

	var err error
	manager, err = vrequest.Singleton(testApp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create manager: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	manager.Shutdown(ctx)
	cancel()
	mockAPI.Close()
	os.Exit(code)
}

func serve(t *testing.T, method, target string) (*http.Response, string) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	newRouter(testApp, manager).ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	resp, body := serve(t, http.MethodGet, "/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body != "OK" {
		t.Errorf("Expected body 'OK', got %s", body)
	}
}

func TestReadyEndpoint_WithoutRedis(t *testing.T) {
	resp, body := serve(t, http.MethodGet, "/ready")

	if resp.StatusCode != http.StatusOK || body != "READY" {
		t.Errorf("got %d %q, want 200 READY", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp, body := serve(t, http.MethodGet, "/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "vrequest_queue_pending") {
		t.Error("metrics output missing vrequest_queue_pending")
	}
}

func TestFetchEndpoint(t *testing.T) {
	mockAPI.SetResponse("/items", testutil.NewJSONResponse(`[{"id":1},{"id":2}]`))

	resp, body := serve(t, http.MethodGet, "/fetch?url=https://api.example.com/items")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if body != `[{"id":1},{"id":2}]` {
		t.Errorf("body = %s", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestFetchEndpoint_UpstreamClientError(t *testing.T) {
	mockAPI.SetResponse("/missing", testutil.NewErrorResponse(http.StatusNotFound, "missing"))

	resp, body := serve(t, http.MethodGet, "/fetch?url=https://api.example.com/missing&tag=lookup")

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(body, `"error_class":"client"`) {
		t.Errorf("body = %s, want client error class", body)
	}
}

func TestFetchEndpoint_UpstreamServerError(t *testing.T) {
	mockAPI.SetResponse("/down", testutil.NewErrorResponse(http.StatusServiceUnavailable, "down"))

	resp, _ := serve(t, http.MethodGet, "/fetch?url=https://api.example.com/down")

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestFetchEndpoint_NoContent(t *testing.T) {
	mockAPI.SetResponse("/empty", testutil.MockResponse{StatusCode: http.StatusOK})

	resp, _ := serve(t, http.MethodGet, "/fetch?url=https://api.example.com/empty")

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestFetchEndpoint_InvalidURL(t *testing.T) {
	for _, target := range []string{"/fetch", "/fetch?url=ftp://example.com/x", "/fetch?url=relative/path"} {
		resp, _ := serve(t, http.MethodGet, target)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, resp.StatusCode)
		}
	}
}

func TestFetchEndpoint_Timeout(t *testing.T) {
	mockAPI.SetResponse("/slow", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{}`, Delay: time.Second})

	old := fetchTimeout
	fetchTimeout = 50 * time.Millisecond
	defer func() { fetchTimeout = old }()

	resp, _ := serve(t, http.MethodGet, "/fetch?url=https://api.example.com/slow")

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	mockAPI.SetResponse("/hang", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{}`, Delay: 2 * time.Second})

	delivered := make(chan struct{}, 1)
	vrequest.New[struct{}]().
		With(testApp).
		Load("https://api.example.com/hang").
		OnSuccess(func(*struct{}) { delivered <- struct{}{} }).
		OnError(func(error) { delivered <- struct{}{} }).
		FetchTag("batch-7")
	time.Sleep(50 * time.Millisecond)

	resp, body := serve(t, http.MethodDelete, "/requests/batch-7")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"cancelled":1`) {
		t.Errorf("body = %s, want one cancelled request", body)
	}

	select {
	case <-delivered:
		t.Error("cancelled request was delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("VREQUEST_TEST_KEY", "value")

	if got := getEnv("VREQUEST_TEST_KEY", "default"); got != "value" {
		t.Errorf("getEnv() = %q, want value", got)
	}
	if got := getEnv("VREQUEST_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}
