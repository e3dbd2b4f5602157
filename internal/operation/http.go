package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one request.
	DefaultTimeout = 30 * time.Second

	// DefaultBufferSize is the transport read and write buffer size used
	// when no override is configured.
	DefaultBufferSize = 4096
)

// HTTPConfig describes the request sent each cycle.
type HTTPConfig struct {
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ExpectStatus is the required status code. Zero accepts any 2xx.
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	Expect []Expectation `json:"expect,omitempty" yaml:"expect,omitempty"`

	// BufferSize sets the transport read and write buffer sizes.
	BufferSize int `json:"bufferSize,omitempty" yaml:"bufferSize,omitempty"`

	// MaxConns caps connections to the target host. Zero means no cap.
	MaxConns int `json:"maxConns,omitempty" yaml:"maxConns,omitempty"`
}

// StatusError reports an unexpected response status.
type StatusError struct {
	Code int
	Want int
}

func (e *StatusError) Error() string {
	if e.Want == 0 {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d, want %d", e.Code, e.Want)
}

// HTTP sends one request per cycle.
type HTTP struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTP validates cfg and builds a client with its own connection pool.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("http operation: url is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("http operation: unsupported url %q", cfg.URL)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ReadBufferSize:      cfg.BufferSize,
		WriteBufferSize:     cfg.BufferSize,
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConns,
		MaxConnsPerHost:     cfg.MaxConns,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.MaxConns == 0 {
		transport.MaxIdleConns = 100
		transport.MaxIdleConnsPerHost = 100
	}

	return &HTTP{
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

// Name returns the method and URL.
func (h *HTTP) Name() string {
	return h.config.Method + " " + h.config.URL
}

// Config returns the normalised configuration.
func (h *HTTP) Config() HTTPConfig {
	return h.config
}

// Do sends the request and checks the response.
func (h *HTTP) Do(ctx context.Context) error {
	var body io.Reader
	if h.config.Body != "" {
		body = strings.NewReader(h.config.Body)
	}
	req, err := http.NewRequestWithContext(ctx, h.config.Method, h.config.URL, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if len(h.config.Expect) == 0 {
		// Drain so the connection is reused.
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	if h.config.ExpectStatus != 0 {
		if resp.StatusCode != h.config.ExpectStatus {
			return &StatusError{Code: resp.StatusCode, Want: h.config.ExpectStatus}
		}
	} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}

	if len(h.config.Expect) == 0 {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	for _, e := range h.config.Expect {
		if err := e.Check(data); err != nil {
			return err
		}
	}
	return nil
}

// Close releases idle connections.
func (h *HTTP) Close() {
	h.client.CloseIdleConnections()
}
