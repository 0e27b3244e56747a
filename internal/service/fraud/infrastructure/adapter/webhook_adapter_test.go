package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"fraudguard/internal/pkg/httpclient"
	"fraudguard/internal/service/fraud/domain"
)

func TestWebhookAdapter_PostsOnlyRejected(t *testing.T) {
	var calls atomic.Int32
	var received domain.FraudAssessed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Webhook-Secret") != "hook-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := httpclient.NewClient(noop.NewTracerProvider().Tracer("test"))
	a := NewWebhookAdapter(client, srv.URL, "hook-secret")

	if err := a.PublishAssessment(context.Background(), &domain.FraudAssessed{AssessmentID: "a-1", Allowed: true}); err != nil {
		t.Fatalf("allowed assessment returned error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("allowed assessment must not be posted")
	}

	err := a.PublishAssessment(context.Background(), &domain.FraudAssessed{AssessmentID: "a-2", Phone: "+8801712345678"})
	if err != nil {
		t.Fatalf("rejected assessment returned error: %v", err)
	}
	if calls.Load() != 1 || received.AssessmentID != "a-2" || received.Phone != "+8801712345678" {
		t.Fatalf("unexpected webhook payload %+v (calls=%d)", received, calls.Load())
	}
}
