package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/tinyevents/pkg/event"
	"github.com/nicktill/tinyevents/pkg/sdk/consumer"
)

// Receiver endpoint paths, appended to the configured server URL
const (
	BatchPath = "sync_server"
	DebugPath = "data_debug"
)

// DefaultTimeout bounds one request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 1 << 20

// UserAgent identifies the library to the receiver.
var UserAgent = "tinyevents-go/" + event.LibVersion

// Transport delivers one encoded batch
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// Config holds the receiver connection settings
type Config struct {
	ServerURL string
	AppID     string
	Timeout   time.Duration
	Compress  bool

	// Client overrides the HTTP client; its Timeout is left untouched.
	Client *http.Client
}

// HTTPTransport posts batches to the receiver's batch endpoint.
type HTTPTransport struct {
	endpoint string
	appID    string
	compress bool
	client   *http.Client
}

// NewHTTP creates a batch transport
func NewHTTP(cfg Config) (*HTTPTransport, error) {
	endpoint, err := endpointURL(cfg.ServerURL, BatchPath)
	if err != nil {
		return nil, err
	}
	return &HTTPTransport{
		endpoint: endpoint,
		appID:    cfg.AppID,
		compress: cfg.Compress,
		client:   httpClient(cfg),
	}, nil
}

// Endpoint returns the resolved batch URL.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Send posts payload, a JSON array of records, and checks the result code.
func (t *HTTPTransport) Send(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	body := payload
	compression := "none"
	if t.compress {
		zipped, err := gzipBytes(payload)
		if err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		body = zipped
		compression = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("appid", t.appID)
	req.Header.Set("compress", compression)
	setIdentity(req)

	respBody, err := do(t.client, req)
	if err != nil {
		return err
	}

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return &consumer.TransportError{URL: t.endpoint, Err: fmt.Errorf("decode response %q: %w", respBody, err)}
	}
	if result.Code != 0 {
		return consumer.NewReceiverError(result.Code, result.Msg)
	}
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}

// DebugTransport posts single records as form data to the debug endpoint.
type DebugTransport struct {
	endpoint string
	appID    string
	dryRun   bool
	client   *http.Client
}

// NewDebug creates a debug transport. With dryRun set the receiver checks
// the record without storing it.
func NewDebug(cfg Config, dryRun bool) (*DebugTransport, error) {
	endpoint, err := endpointURL(cfg.ServerURL, DebugPath)
	if err != nil {
		return nil, err
	}
	return &DebugTransport{
		endpoint: endpoint,
		appID:    cfg.AppID,
		dryRun:   dryRun,
		client:   httpClient(cfg),
	}, nil
}

// Endpoint returns the resolved debug URL.
func (t *DebugTransport) Endpoint() string {
	return t.endpoint
}

// Send posts one encoded record and fails on any nonzero errorLevel.
func (t *DebugTransport) Send(ctx context.Context, data []byte) error {
	dryRun := "0"
	if t.dryRun {
		dryRun = "1"
	}
	form := url.Values{
		"appid":  {t.appID},
		"source": {"server"},
		"dryRun": {dryRun},
		"data":   {string(data)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setIdentity(req)

	respBody, err := do(t.client, req)
	if err != nil {
		return err
	}

	var result struct {
		ErrorLevel int `json:"errorLevel"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return &consumer.TransportError{URL: t.endpoint, Err: fmt.Errorf("decode response %q: %w", respBody, err)}
	}
	if result.ErrorLevel != 0 {
		return &consumer.ReceiverError{
			Code: result.ErrorLevel,
			Msg:  string(respBody),
			Kind: consumer.KindInvalidData,
		}
	}
	return nil
}

// Close releases idle connections.
func (t *DebugTransport) Close() {
	t.client.CloseIdleConnections()
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	endpoint := req.URL.String()

	resp, err := client.Do(req)
	if err != nil {
		return nil, &consumer.TransportError{URL: endpoint, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &consumer.TransportError{URL: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &consumer.TransportError{URL: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func setIdentity(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("TE-Integration-Type", "Go")
	req.Header.Set("TE-Integration-Version", event.LibVersion)
}

func httpClient(cfg Config) *http.Client {
	if cfg.Client != nil {
		return cfg.Client
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func endpointURL(serverURL, path string) (string, error) {
	if serverURL == "" {
		return "", fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}
	return u.JoinPath(path).String(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
