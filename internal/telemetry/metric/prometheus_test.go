package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.registry == nil {
		t.Error("registry field is nil")
	}
	if r.Members == nil || r.Proposals == nil || r.Negotiations == nil {
		t.Error("metrics not initialised")
	}
}

func TestGlobal(t *testing.T) {
	r1 := Global()
	r2 := Global()
	if r1 != r2 {
		t.Error("Global() should return the same instance")
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(bodyStr, "process_") {
		t.Error("expected process metrics")
	}
}

func TestMembershipMetrics(t *testing.T) {
	r := NewRegistry()

	r.SetMembers(3)
	r.SetLeader(true)
	r.SetApplied(42, 7)
	r.IncLeaderChanges()
	r.IncLeaderChanges()
	r.IncEvictions()

	body := scrape(t, r)
	for _, want := range []string{
		"constellation_members 3",
		"constellation_is_leader 1",
		"constellation_applied_index 42",
		"constellation_epoch 7",
		"constellation_leader_changes_total 2",
		"constellation_liveness_evictions_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestProposalMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordProposal("committed", 0.004)
	r.RecordProposal("committed", 0.008)
	r.RecordProposal("not_leader", 0)

	body := scrape(t, r)
	if !strings.Contains(body, `constellation_proposals_total{result="committed"} 2`) {
		t.Error("expected committed proposals 2")
	}
	if !strings.Contains(body, `constellation_proposals_total{result="not_leader"} 1`) {
		t.Error("expected not_leader proposals 1")
	}
	if !strings.Contains(body, "constellation_propose_duration_seconds_count 2") {
		t.Error("only committed proposals are timed")
	}
}

func TestMeshMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordNegotiation("direct")
	r.RecordNegotiation("translated")
	r.RecordNegotiation("direct")
	r.RecordCall("direct", "ok", 0.01)
	r.RecordChannelError("CM-TRNS-5040")
	r.RecordRelay("ok")
	r.RecordAdmission("denied")
	r.RecordRequest("/constellation.admin.v1.AdminService/Status", "ok", 0.002)

	body := scrape(t, r)
	for _, want := range []string{
		`constellation_negotiations_total{outcome="direct"} 2`,
		`constellation_negotiations_total{outcome="translated"} 1`,
		`constellation_calls_total{path="direct",result="ok"} 1`,
		`constellation_channel_errors_total{code="CM-TRNS-5040"} 1`,
		`constellation_relays_total{result="ok"} 1`,
		`constellation_admissions_total{result="denied"} 1`,
		`constellation_requests_total{code="ok",procedure="/constellation.admin.v1.AdminService/Status"} 1`,
		"constellation_call_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q", want)
		}
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry

	// Should not panic
	r.SetMembers(1)
	r.SetLeader(false)
	r.SetApplied(1, 1)
	r.IncLeaderChanges()
	r.RecordProposal("committed", 1)
	r.IncEvictions()
	r.RecordNegotiation("direct")
	r.RecordCall("direct", "ok", 1)
	r.RecordChannelError("x")
	r.RecordRelay("ok")
	r.RecordAdmission("ok")
	r.RecordRequest("p", "ok", 1)
	if r.Prometheus() != nil {
		t.Error("nil registry should expose no prometheus registry")
	}
}

func TestEnableRaftMetrics(t *testing.T) {
	r := NewRegistry()
	if err := r.EnableRaftMetrics("constellation-test"); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordProposal("committed", 0.001)
				r.RecordNegotiation("direct")
				r.RecordCall("translated", "ok", 0.001)
				r.SetMembers(j)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	scrape(t, r)
}
