package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/StealthMoud/securenote"
)

type fakeSource struct {
	snapshot securenote.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() securenote.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: securenote.MetricsSnapshot{
			Counters: map[securenote.MetricID]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounters(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: securenote.MetricsSnapshot{
			Counters: map[securenote.MetricID]uint64{
				securenote.MetricLoginSuccess:      7,
				securenote.MetricDocumentDecrypted: 12,
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "securenote_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "securenote_document_decrypted_total 12") {
		t.Fatalf("expected document_decrypted counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE securenote_login_success_total counter") {
		t.Fatalf("expected TYPE line in output, got:\n%s", out)
	}
	if !strings.Contains(out, "securenote_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
	// Counters that never fired still render at zero once anything is live.
	if !strings.Contains(out, "securenote_crypto_failure_total 0") {
		t.Fatalf("expected zero-valued counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: securenote.MetricsSnapshot{
			Counters: map[securenote.MetricID]uint64{securenote.MetricLoginSuccess: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: securenote.MetricsSnapshot{
			Counters: map[securenote.MetricID]uint64{
				securenote.MetricLoginSuccess:         1000,
				securenote.MetricLoginFailure:         40,
				securenote.MetricSessionIssued:        1000,
				securenote.MetricDocumentEncrypted:    300,
				securenote.MetricDocumentDecrypted:    900,
				securenote.MetricDocumentShared:       120,
				securenote.MetricAccessDenied:         15,
				securenote.MetricVerificationDecided:  30,
				securenote.MetricSecondFactorSuccess:  400,
				securenote.MetricSecondFactorRequired: 410,
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
