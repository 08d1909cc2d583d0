package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps swaps the dispatcher's sleep for one that records delays.
func recordSleeps(d *Dispatcher) *[]time.Duration {
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return &slept
}

func TestDeliverDisabledIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: false, Retries: 3})
	slept := recordSleeps(d)

	out := d.DeliverWithRetry(context.Background(), map[string]string{"a": "b"}, 0)
	assert.False(t, out.Success)
	assert.Equal(t, ReasonDisabled, out.Reason)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, AttemptTerminal, out.Attempts[0].Result)
	assert.Empty(t, *slept)
	assert.Zero(t, hits.Load())
}

func TestDeliverNoEndpointIsTerminal(t *testing.T) {
	d := New(Settings{Enabled: true})
	out := d.Deliver(context.Background(), struct{}{})
	assert.Equal(t, ReasonNoEndpoint, out.Reason)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, AttemptTerminal, out.Attempts[0].Result)
}

func TestDeliverPostsJSON(t *testing.T) {
	var got ReportPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: true})
	payload := ReportPayload{
		WAUser:      ReportUser{Name: "Budi", Phone: "628111"},
		Task:        ReportTask{Title: "plafond bocor", Category: "umum"},
		WAMessageID: "ABC",
	}
	out := d.Deliver(context.Background(), payload)

	assert.True(t, out.Success)
	assert.Equal(t, http.StatusCreated, out.Status)
	assert.JSONEq(t, `{"id":7}`, string(out.Data))
	assert.Equal(t, payload, got)
}

func TestReportPayloadOmitsEmptyEvidence(t *testing.T) {
	data, err := json.Marshal(ReportPayload{Task: ReportTask{Title: "t", Category: "c"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "evidence")

	data, err = json.Marshal(ReportPayload{Task: ReportTask{Title: "t", Category: "c", Evidence: "https://x/y.jpg"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"evidence":"https://x/y.jpg"`)
}

func TestRetryExhaustsWithExponentialDelays(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: true, Retries: 3})
	slept := recordSleeps(d)

	out := d.DeliverWithRetry(context.Background(), map[string]int{"n": 1}, 0)
	assert.False(t, out.Success)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	assert.Equal(t, http.StatusBadGateway, out.Status)
	require.Len(t, out.Attempts, 3)
	for i, a := range out.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, AttemptRetryable, a.Result)
		assert.Equal(t, http.StatusBadGateway, a.HTTPStatus)
	}
}

func TestRetryFourAttemptsDelays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: true})
	slept := recordSleeps(d)

	out := d.DeliverWithRetry(context.Background(), "x", 4)
	assert.Len(t, out.Attempts, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: true, Retries: 3})
	recordSleeps(d)

	out := d.DeliverWithRetry(context.Background(), "x", 0)
	assert.True(t, out.Success)
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, AttemptRetryable, out.Attempts[0].Result)
	assert.Equal(t, AttemptSuccess, out.Attempts[1].Result)
}

func TestTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	d := New(Settings{Endpoint: srv.URL, Enabled: true, Timeout: 20 * time.Millisecond})
	out := d.Deliver(context.Background(), "x")
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, AttemptRetryable, out.Attempts[0].Result)
}

func TestUpdateSwapsSettings(t *testing.T) {
	d := New(Settings{Endpoint: "http://a", Enabled: true})
	d.Update(Settings{Endpoint: "http://b", Enabled: false, Retries: 5})
	s := d.Settings()
	assert.Equal(t, "http://b", s.Endpoint)
	assert.False(t, s.Enabled)
	assert.Equal(t, 5, s.Retries)
}
