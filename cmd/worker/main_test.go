package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"presensi/internal/metrics"
)

func TestMetricsEndpointExposesDispatchCounters(t *testing.T) {
	metrics.NotificationsSent.WithLabelValues("delivered").Inc()

	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "presensi_notifications_total") {
		t.Fatal("dispatch counter missing from scrape output")
	}
}
