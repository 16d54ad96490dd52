package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, obs *Observability) string {
	t.Helper()
	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected metrics scrape to succeed, got %d", res.Code)
	}
	return res.Body.String()
}

func TestObservabilityLabelsChiRoutePattern(t *testing.T) {
	obs := NewObservability(Config{ServiceName: "registryd-test", MetricsPrefix: "regtest"}, nil)

	router := chi.NewRouter()
	router.Use(obs.Middleware())
	router.Get("/rfps/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/rfps/rfp_123", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected routed request to succeed, got %d", res.Code)
	}

	body := scrape(t, obs)
	if !strings.Contains(body, `regtest_requests_total{method="GET",route="/rfps/{id}",status="OK"} 1`) {
		t.Fatalf("expected request counter with route pattern, got:\n%s", body)
	}
	if !strings.Contains(body, `regtest_request_duration_seconds_count{method="GET",route="/rfps/{id}"} 1`) {
		t.Fatalf("expected duration histogram with route pattern, got:\n%s", body)
	}
}

func TestObservabilityRecordsErrorStatus(t *testing.T) {
	obs := NewObservability(Config{ServiceName: "registryd-test", MetricsPrefix: "errtest"}, nil)

	router := chi.NewRouter()
	router.Use(obs.Middleware())
	router.Get("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/agents/missing", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected handler 404, got %d", res.Code)
	}

	body := scrape(t, obs)
	if !strings.Contains(body, `errtest_requests_total{method="GET",route="/agents/{id}",status="Not Found"} 1`) {
		t.Fatalf("expected 404 counter, got:\n%s", body)
	}
}

func TestObservabilityFallsBackToRawPath(t *testing.T) {
	obs := NewObservability(Config{ServiceName: "plain-test", MetricsPrefix: "plaintest"}, nil)

	handler := obs.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected request to succeed, got %d", res.Code)
	}

	body := scrape(t, obs)
	if !strings.Contains(body, `plaintest_requests_total{method="GET",route="/healthz",status="OK"} 1`) {
		t.Fatalf("expected raw path label, got:\n%s", body)
	}
}
