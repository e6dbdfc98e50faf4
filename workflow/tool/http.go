package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowgraph-dev/flowgraph/workflow/model"
)

const httpMaxResponseBytes = 1 << 20 // 1 MiB

// HTTPTool makes outbound HTTP requests on behalf of a model.
//
// It supports GET and POST and returns the status code, headers, and body
// of the response. Because the URL originates from model output, the tool
// refuses non-HTTP schemes and, unless AllowPrivate is set, requests that
// resolve to loopback or private address ranges.
//
// Input parameters:
//   - method: "GET" or "POST" (defaults to GET)
//   - url: target URL (required)
//   - headers: optional map of request headers
//   - body: optional request body for POST
type HTTPTool struct {
	client *http.Client

	// AllowPrivate permits requests to loopback and RFC 1918 addresses.
	// Leave false in production; enable only for tests against local servers.
	AllowPrivate bool
}

// NewHTTPTool creates an HTTP tool with a 30 second request timeout.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Tool.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Spec implements Tool.
func (h *HTTPTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        "http_request",
		Description: "Make an HTTP GET or POST request and return the response",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Target URL (http or https)",
				},
				"method": map[string]any{
					"type":        "string",
					"description": "HTTP method, GET or POST (defaults to GET)",
				},
				"headers": map[string]any{
					"type":        "object",
					"description": "Optional request headers",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Optional request body for POST",
				},
			},
			"required": []string{"url"},
		},
	}
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}
	if err := h.checkTarget(urlStr); err != nil {
		return nil, err
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]any)
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}

// checkTarget rejects URLs that a model should not be able to reach.
func (h *HTTPTool) checkTarget(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url missing host")
	}
	if h.AllowPrivate {
		return nil
	}

	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("refusing request to private host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing request to private address: %s", host)
		}
	}
	return nil
}
