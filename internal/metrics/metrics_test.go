package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetConnectionStateIsOneHot(t *testing.T) {
	SetConnectionState("open")
	for _, s := range states {
		want := 0.0
		if s == "open" {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(connectionState.WithLabelValues(s)), s)
	}
}

func TestRecordCounters(t *testing.T) {
	before := testutil.ToFloat64(webhookAttemptsTotal.WithLabelValues("retryable"))
	RecordWebhookAttempt("retryable", 120)
	assert.Equal(t, before+1, testutil.ToFloat64(webhookAttemptsTotal.WithLabelValues("retryable")))

	before = testutil.ToFloat64(messagesTotal.WithLabelValues("stale"))
	RecordMessage("stale")
	assert.Equal(t, before+1, testutil.ToFloat64(messagesTotal.WithLabelValues("stale")))

	before = testutil.ToFloat64(sessionResetsTotal.WithLabelValues("max_attempts"))
	RecordSessionReset("max_attempts")
	assert.Equal(t, before+1, testutil.ToFloat64(sessionResetsTotal.WithLabelValues("max_attempts")))
}
