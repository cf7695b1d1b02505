package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.ProtocolRequests.WithLabelValues("fetch_post_references", "ok").Inc()
	r.OptimisticAdds.Inc()

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`arctica_protocol_requests_total{operation="fetch_post_references",outcome="ok"} 1`,
		"arctica_comments_optimistic_inserts_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
