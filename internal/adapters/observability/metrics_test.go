package observability_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"thebestitaly/internal/adapters/observability"
)

func TestMetricsRegistryAndHandler(t *testing.T) {
	reg := observability.InitRegistry()

	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveSnapshot("it", "hit")
	observability.ObserveGeneration("it", "generate", errors.New("boom"), time.Second)

	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, want := range []string{
		"destinations_http_requests_total",
		`destinations_snapshot_lookups_total{event="hit",lang="it"}`,
		`destinations_snapshot_generations_total{kind="generate",lang="it",result="*errors.errorString"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output", want)
		}
	}
}

func TestLabelErr(t *testing.T) {
	if got := observability.LabelErr(nil); got != "none" {
		t.Fatalf("nil err label = %q", got)
	}
}

func TestServeExposesAppMetrics(t *testing.T) {
	if observability.Serve("", observability.InitRegistry()) != nil {
		t.Fatalf("empty addr should disable the listener")
	}

	reg := observability.InitRegistry()
	observability.ObserveDiskLoad("en", "ok")
	srv := observability.Serve("127.0.0.1:0", reg)
	if srv == nil {
		t.Fatalf("listener not configured")
	}
	t.Cleanup(func() { _ = srv.Close() })

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	if want := `destinations_snapshot_disk_loads_total{lang="en",result="ok"}`; !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("expected %s in output", want)
	}
}
