package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/andyfriends/vrequest/pkg/cache"
	_ "github.com/andyfriends/vrequest/pkg/queue"
	_ "github.com/andyfriends/vrequest/pkg/vrequest"

	"github.com/andyfriends/vrequest/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if metrics.Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
	if metrics.Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestHandler_ServesUnlabeledMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"vrequest_decode_failures_total",
		"vrequest_queue_pending",
		"vrequest_cache_hits_total",
		"vrequest_cache_misses_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
