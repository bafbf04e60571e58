package error_telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// collector is an httptest-backed log server recording every payload it
// receives.
type collector struct {
	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
	status   int
	server   *httptest.Server
}

func newCollector(status int) *collector {
	c := &collector{status: status}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()

		w.WriteHeader(c.status)
	}))
	return c
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *collector) payload(i int) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads[i]
}

func serverOverrides(url string) Overrides {
	return Overrides{
		LogToServer:  ptr(true),
		LogServerURL: ptr(url),
		LogToConsole: ptr(false),
		SamplingRate: ptr(1.0),
		ThrottleTime: ptr(time.Duration(0)),
	}
}

func closeClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}

func flushClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Flush(ctx))
}

func TestCaptureDeliversToCollector(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	c, err := New(serverOverrides(col.server.URL))
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError(errors.New("boom"), nil)
	flushClient(t, c)

	require.Equal(t, 1, col.count())
	payload := col.payload(0)
	assert.Equal(t, "boom", payload["message"])
	assert.Equal(t, "manual", payload["type"])
	assert.NotEmpty(t, payload["event_id"])

	// A second capture gets a fresh event id.
	c.CaptureError(errors.New("boom"), nil)
	flushClient(t, c)

	require.Equal(t, 2, col.count())
	assert.NotEqual(t, col.payload(0)["event_id"], col.payload(1)["event_id"])
}

func TestCaptureContentTypeAndCustomHeaders(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.Headers = map[string]string{"X-Api-Key": "k123"}

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError("oops", nil)
	flushClient(t, c)

	require.Equal(t, 1, col.count())
	assert.Equal(t, "application/json", col.headers[0].Get("Content-Type"))
	assert.Equal(t, "k123", col.headers[0].Get("X-Api-Key"))
}

func TestCaptureSamplingZeroSendsNothing(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.SamplingRate = ptr(0.0)

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	for i := 0; i < 10; i++ {
		c.CaptureError(errors.New("boom"), nil)
	}
	flushClient(t, c)

	assert.Equal(t, 0, col.count())
}

func TestCaptureThrottleSuppressesSecond(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.ThrottleTime = ptr(time.Second)

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	// Two captures well inside the default window.
	c.CaptureError(errors.New("first"), nil)
	c.CaptureError(errors.New("second"), nil)
	flushClient(t, c)

	assert.Equal(t, 1, col.count())
}

func TestCaptureTransformVetoSendsNothing(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.TransformRequest = func(map[string]any) map[string]any { return nil }

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError(errors.New("boom"), nil)
	flushClient(t, c)

	assert.Equal(t, 0, col.count())
}

func TestCaptureFilteredSignalSkipsCallback(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	var called int
	over := serverOverrides(col.server.URL)
	over.OnError = func(*ErrorRecord) { called++ }

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError("{}", nil)
	c.CaptureError("Script error.", nil)
	flushClient(t, c)

	assert.Equal(t, 0, col.count())
	assert.Equal(t, 0, called)
}

func TestCaptureCallbackPanicIsIsolated(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.OnError = func(*ErrorRecord) { panic("callback exploded") }

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError(errors.New("boom"), nil)
	flushClient(t, c)

	// The record still gets delivered.
	assert.Equal(t, 1, col.count())
}

func TestCaptureDisabledClient(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	c, err := New(serverOverrides(col.server.URL))
	require.NoError(t, err)
	defer closeClient(t, c)

	c.Disable().CaptureError(errors.New("boom"), nil)
	flushClient(t, c)
	assert.Equal(t, 0, col.count())

	c.Enable().CaptureError(errors.New("boom"), nil)
	flushClient(t, c)
	assert.Equal(t, 1, col.count())
}

func TestCapturePromiseRejectionToggle(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	over := serverOverrides(col.server.URL)
	over.CatchPromiseRejections = ptr(false)

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.Capture(CaptureSignal{Type: TypeUnhandledRejection, Message: "rejected"})
	flushClient(t, c)

	assert.Equal(t, 0, col.count())
}

func TestDeviceIDStableAcrossClients(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	durable := NewMemoryStore()
	var ids []string
	over := serverOverrides(col.server.URL)
	over.OnError = func(rec *ErrorRecord) { ids = append(ids, rec.DeviceID) }

	for i := 0; i < 2; i++ {
		c, err := New(over, WithStores(durable, nil, nil))
		require.NoError(t, err)
		c.CaptureError(errors.New("boom"), nil)
		flushClient(t, c)
		closeClient(t, c)
	}

	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1], "two initializations over the same durable store share a device id")
}

func TestUpdateConfigReDerivesAndValidates(t *testing.T) {
	c, err := New(Overrides{})
	require.NoError(t, err)
	defer closeClient(t, c)

	c.UpdateConfig(Overrides{AppName: ptr("shop")})
	c.UpdateConfig(Overrides{Environment: ptr("staging")})

	cfg := c.config()
	assert.Equal(t, "shop", cfg.AppName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.True(t, cfg.Enabled, "untouched fields keep their defaults")

	// An invalid override is rejected and the previous config stays.
	c.UpdateConfig(Overrides{SamplingRate: ptr(3.0)})
	assert.Equal(t, 1.0, c.config().SamplingRate)
	assert.Equal(t, "shop", c.config().AppName)
}

func TestCaptureAfterCloseIsNoOp(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	c, err := New(serverOverrides(col.server.URL), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	closeClient(t, c)
	c.CaptureError(errors.New("boom"), nil) // must not panic
	c.UpdateConfig(Overrides{AppName: ptr("x")})
	assert.Equal(t, 0, col.count())
}

func TestCaptureRetriesAgainstFlakyCollector(t *testing.T) {
	var mu sync.Mutex
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	over := serverOverrides(server.URL)
	over.ThrottleTime = ptr(time.Millisecond)
	over.MaxRetries = ptr(5)

	c, err := New(over)
	require.NoError(t, err)
	defer closeClient(t, c)

	c.CaptureError(errors.New("boom"), nil)
	flushClient(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}
