package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://WWW.SNIEG.mx/cni/escenario.aspx?idOrden=1.1", "www.snieg.mx"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if harvestAttemptsTotal == nil || harvestRecordsTotal == nil ||
		harvestActiveContexts == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(harvestAttemptsTotal.WithLabelValues("www.snieg.mx", "transient"))
	ObserveAttempt("https://www.snieg.mx/cni/a", "transient")
	if got := testutil.ToFloat64(harvestAttemptsTotal.WithLabelValues("www.snieg.mx", "transient")); got != before+1 {
		t.Errorf("attempts = %f; want %f", got, before+1)
	}

	failedBefore := testutil.ToFloat64(harvestRecordsTotal.WithLabelValues("failed"))
	ObserveRecord(true)
	if got := testutil.ToFloat64(harvestRecordsTotal.WithLabelValues("failed")); got != failedBefore+1 {
		t.Errorf("failed records = %f; want %f", got, failedBefore+1)
	}

	errBefore := testutil.ToFloat64(harvestCheckpointsTotal.WithLabelValues("error"))
	ObserveCheckpoint(errors.New("disk full"))
	if got := testutil.ToFloat64(harvestCheckpointsTotal.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("checkpoint errors = %f; want %f", got, errBefore+1)
	}

	ObserveNavigation("https://www.snieg.mx/cni/a", 3*time.Second)
	if n := testutil.CollectAndCount(harvestNavigationSeconds); n == 0 {
		t.Error("expected navigation histogram to be observed")
	}
}

func TestActiveContextsGauge(t *testing.T) {
	Init()

	base := testutil.ToFloat64(harvestActiveContexts)
	IncActiveContexts()
	IncActiveContexts()
	DecActiveContexts()
	if got := testutil.ToFloat64(harvestActiveContexts); got != base+1 {
		t.Errorf("active contexts = %f; want %f", got, base+1)
	}
	DecActiveContexts()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.snieg.mx", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
