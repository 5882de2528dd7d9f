package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)
	if m == nil {
		t.Fatal("newMetricsWithRegistry returned nil")
	}
	if m.chunksTotal == nil || m.blobUploadDuration == nil || m.manifestFilesTotal == nil {
		t.Error("expected core metrics to be initialized")
	}
}

func TestRecordChunk(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordChunk("encrypt", 4096)
	m.RecordChunk("encrypt", 2048)

	count := testutil.ToFloat64(m.chunksTotal.WithLabelValues("encrypt"))
	if count != 2 {
		t.Errorf("expected 2 chunks recorded, got %v", count)
	}
	bytes := testutil.ToFloat64(m.chunkBytesTotal.WithLabelValues("encrypt"))
	if bytes != 6144 {
		t.Errorf("expected 6144 bytes recorded, got %v", bytes)
	}
}

func TestRecordDedupSkip(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordDedupSkip()
	m.RecordDedupSkip()
	m.RecordDedupSkip()

	if got := testutil.ToFloat64(m.dedupSkipsTotal); got != 3 {
		t.Errorf("expected 3 dedup skips, got %v", got)
	}
}

func TestRecordManifestFiles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordManifestFiles(10)
	m.RecordManifestFiles(5)

	if got := testutil.ToFloat64(m.manifestFilesTotal); got != 15 {
		t.Errorf("expected 15 manifest files, got %v", got)
	}
}

func TestRecordBlobUpload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordBlobUpload("s3:bucket", 50*time.Millisecond)

	if got := testutil.CollectAndCount(m.blobUploadDuration); got != 1 {
		t.Errorf("expected one observed series, got %d", got)
	}
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordError("encrypt_file", "io_error")

	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("encrypt_file", "io_error")); got != 1 {
		t.Errorf("expected 1 error recorded, got %v", got)
	}
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)
	m.RecordChunk("decrypt", 1024)
	m.RecordDedupSkip()

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{"blobvault_chunks_total", "blobvault_dedup_skips_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected metrics output to contain %q", name)
		}
	}
}
