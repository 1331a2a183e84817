package metrics

import (
	"testing"
	"time"
)

// TestCollectorsLifecycle covers the nil-guards before Init and the
// idempotent registration after it. One test function keeps the ordering
// deterministic: observers must be exercised before Init registers the
// collectors.
func TestCollectorsLifecycle(t *testing.T) {
	// Pre-Init observations are dropped, not panics.
	ObservePage(true)
	ObserveLinks(3, 1)
	ObserveProviderError("RATE_LIMIT")
	IncActiveRuns()
	DecActiveRuns()
	ObserveCourtesyDelay(time.Second)
	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)

	Init()
	Init() // safe to call again

	ObservePage(false)
	ObserveLinks(10, 0)
	ObserveProviderError("QUOTA_EXCEEDED")
	IncActiveRuns()
	DecActiveRuns()
	ObserveCourtesyDelay(250 * time.Millisecond)
	ObserveHTTPRequest("POST", "/v1/combinations", 201, 12*time.Millisecond)

	if Handler() == nil {
		t.Fatal("expected metrics handler to be non-nil")
	}
}
