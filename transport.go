package error_telemetry

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DeliveryRequest is everything the transport needs for one attempt.
// The queue assembles it from the current configuration and the freshly
// built payload.
type DeliveryRequest struct {
	URL      string
	Headers  map[string]string
	Body     []byte
	Compress bool
	EventID  string
}

// Sender posts a delivery request to the collector. The HTTP transport
// is the production implementation; tests substitute their own.
type Sender interface {
	Send(req *DeliveryRequest) *SendResult
}

// HTTPTransport delivers payloads over HTTP POST.
type HTTPTransport struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTransport creates the production transport.
func NewHTTPTransport(timeout time.Duration, logger *zap.Logger) *HTTPTransport {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// Send issues a single POST. Any 2xx status is success; everything
// else, including transport-level failures, is reported back to the
// retry state machine.
func (t *HTTPTransport) Send(req *DeliveryRequest) *SendResult {
	var body io.Reader = bytes.NewReader(req.Body)
	contentEncoding := ""

	if req.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(req.Body); err != nil {
			return &SendResult{EventID: req.EventID, Error: fmt.Sprintf("compress payload: %v", err)}
		}
		if err := gz.Close(); err != nil {
			return &SendResult{EventID: req.EventID, Error: fmt.Sprintf("close gzip writer: %v", err)}
		}
		body = &buf
		contentEncoding = "gzip"
	}

	httpReq, err := http.NewRequest(http.MethodPost, req.URL, body)
	if err != nil {
		return &SendResult{EventID: req.EventID, Error: fmt.Sprintf("create request: %v", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", contentEncoding)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Error("HTTP request failed",
			zap.String("event_id", req.EventID),
			zap.Error(err))
		return &SendResult{EventID: req.EventID, Error: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		t.logger.Warn("failed to read response body",
			zap.String("event_id", req.EventID),
			zap.Error(err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.logger.Debug("record sent",
			zap.String("event_id", req.EventID),
			zap.Int("status_code", resp.StatusCode))
		return &SendResult{Success: true, EventID: req.EventID, StatusCode: resp.StatusCode}
	}

	t.logger.Error("record send failed",
		zap.String("event_id", req.EventID),
		zap.Int("status_code", resp.StatusCode),
		zap.ByteString("response", respBody))

	return &SendResult{
		EventID:    req.EventID,
		StatusCode: resp.StatusCode,
		Error:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)),
	}
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	return nil
}
