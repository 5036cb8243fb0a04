package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestAndUpload(t *testing.T) {
	m := New()

	m.ObserveRequest("GET", "/api/videos", "200", 15*time.Millisecond)
	m.ObserveRequest("GET", "/api/videos", "200", 5*time.Millisecond)
	m.ObserveUpload("stored", 1024)
	m.ObserveStorage("put", errors.New("boom"), time.Millisecond)
	m.ObserveCache(true)

	if got := testutil.ToFloat64(m.HTTPRequestTotal.WithLabelValues("GET", "/api/videos", "200")); got != 2 {
		t.Fatalf("expected 2 requests counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.UploadTotal.WithLabelValues("stored")); got != 1 {
		t.Fatalf("expected 1 stored upload, got %v", got)
	}
	if got := testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("put", "error")); got != 1 {
		t.Fatalf("expected failed put counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.AssetCacheTotal.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected cache hit counted, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", "/", "200", time.Second)
	m.ObserveUpload("stored", 1)
	m.ObserveEvent("video.uploaded", nil)
	m.ObserveCache(false)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveEvent("video.uploaded", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `geoclip_event_publish_total{event_type="video.uploaded",status="ok"} 1`) {
		t.Fatalf("expected event counter in exposition, got:\n%s", body)
	}
}
